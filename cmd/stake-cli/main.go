// stake-cli drives the staking engine directly against the data directory.
// It is an operator tool for environments where the daemon is stopped; the
// daemon itself only serves reads.
package main

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"stakeledger/config"
	"stakeledger/staking"
	"stakeledger/state"
	"stakeledger/storage"
	"stakeledger/token"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "./stakingd.toml", "path to the TOML configuration file")
	account := fs.String("account", "", "account address (0x-prefixed hex)")
	amount := fs.String("amount", "", "amount in wei")
	lock := fs.Duration("lock", 0, "lock period (e.g. 720h); zero uses the default")
	id := fs.Uint64("id", 0, "position id")
	tokenSym := fs.String("token", "", "token symbol (recover/mint)")
	recipient := fs.String("recipient", "", "recipient address (recover)")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	db, err := openDatabase(cfg)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := token.NewLedger(manager)
	engine, err := buildEngine(cfg, manager, ledger)
	if err != nil {
		fatal(err)
	}

	addr, err := config.ParseAddress(*account)
	if err != nil && command != "help" {
		fatal(fmt.Errorf("account: %w", err))
	}

	switch command {
	case "stake":
		value, err := parseAmount(*amount)
		if err != nil {
			fatal(err)
		}
		positionID, err := engine.Stake(addr, value, uint64(lock.Seconds()))
		if err != nil {
			fatal(err)
		}
		fmt.Printf("opened position %d for %s\n", positionID, *account)
	case "claim":
		reward, err := engine.ClaimRewards(addr, *id)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("claimed %s wei of rewards\n", reward)
	case "withdraw":
		principal, reward, err := engine.Withdraw(addr, *id)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("withdrew %s wei principal and %s wei rewards\n", principal, reward)
	case "emergency":
		payout, fee, err := engine.EmergencyWithdraw(addr, *id)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("emergency payout %s wei (fee %s wei retained)\n", payout, fee)
	case "show":
		positions, err := engine.Positions(addr)
		if err != nil {
			fatal(err)
		}
		now := uint64(time.Now().UTC().Unix())
		for _, position := range positions {
			pending, err := engine.PendingRewardAt(addr, position.ID, now)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("position %d: %s wei, tier %s, unlocks at %d, pending reward %s wei\n",
				position.ID, position.Amount, position.Tier, position.UnlocksAt(), pending)
		}
		total, err := engine.TotalStaked()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("total staked: %s wei\n", total)
	case "mint":
		value, err := parseAmount(*amount)
		if err != nil {
			fatal(err)
		}
		symbol := *tokenSym
		if symbol == "" {
			symbol = cfg.StakingToken
		}
		if err := ledger.Mint(symbol, addr, value); err != nil {
			fatal(err)
		}
		fmt.Printf("minted %s %s to %s\n", value, symbol, *account)
	case "recover":
		target, err := config.ParseAddress(*recipient)
		if err != nil {
			fatal(fmt.Errorf("recipient: %w", err))
		}
		swept, err := engine.RecoverToken(addr, *tokenSym, target)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("recovered %s %s to %s\n", swept, *tokenSym, *recipient)
	default:
		usage()
		os.Exit(2)
	}
}

func buildEngine(cfg *config.Config, manager *state.Manager, ledger *token.Ledger) (*staking.Engine, error) {
	moduleAddr, err := config.ParseAddress(cfg.ModuleAddress)
	if err != nil {
		return nil, err
	}
	engine := staking.NewEngine(moduleAddr, cfg.StakingToken)
	engine.SetState(manager)
	engine.SetTokenLedger(ledger)
	engine.SetRoles(manager)

	params, found, err := manager.PolicyParameters()
	if err != nil {
		return nil, err
	}
	if !found {
		if params, err = cfg.PolicyParameters(); err != nil {
			return nil, err
		}
	}
	if err := engine.SetPolicy(params); err != nil {
		return nil, err
	}
	table, found, err := manager.MultiplierTable()
	if err != nil {
		return nil, err
	}
	if !found {
		if table, err = cfg.MultiplierTable(); err != nil {
			return nil, err
		}
	}
	engine.SetMultiplierTable(table)

	for _, admin := range cfg.AdminAddresses {
		addr, err := config.ParseAddress(admin)
		if err != nil {
			return nil, err
		}
		if err := manager.SetRole(staking.RoleStakingAdmin, addr[:]); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DBBackend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	}
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: stake-cli <command> [flags]

commands:
  stake      -account -amount [-lock]    open a position
  claim      -account -id                settle accrued rewards
  withdraw   -account -id                close a position after lock expiry
  emergency  -account -id                close a position early (penalised)
  show       -account                    list positions and pending rewards
  mint       -account -amount [-token]   credit token balance (operator)
  recover    -account -token -recipient  sweep a non-staking token (admin)`)
}
