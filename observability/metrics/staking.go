package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"stakeledger/events"
)

// StakingMetrics exposes the ledger's operational counters and gauges.
type StakingMetrics struct {
	opsTotal     *prometheus.CounterVec
	rewardsPaid  prometheus.Counter
	feesRetained prometheus.Counter
	totalStaked  prometheus.Gauge
	pauseState   prometheus.Gauge
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the process-wide staking metrics, registering them on first
// use.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_operations_total",
				Help: "Count of completed ledger operations by type.",
			}, []string{"op"}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_rewards_paid_wei_total",
				Help: "Cumulative reward value settled to stakers.",
			}),
			feesRetained: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_emergency_fees_wei_total",
				Help: "Cumulative emergency withdrawal fees retained by the pool.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_total_staked_wei",
				Help: "Aggregate principal across all active positions.",
			}),
			pauseState: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_paused",
				Help: "Whether staking mutations are currently suspended (1 = paused).",
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.opsTotal,
			stakingRegistry.rewardsPaid,
			stakingRegistry.feesRetained,
			stakingRegistry.totalStaked,
			stakingRegistry.pauseState,
		)
	})
	return stakingRegistry
}

// SetTotalStaked records the current aggregate principal.
func (m *StakingMetrics) SetTotalStaked(total *big.Int) {
	if m == nil || total == nil {
		return
	}
	value, _ := new(big.Float).SetInt(total).Float64()
	m.totalStaked.Set(value)
}

// Emit implements events.Emitter, translating ledger events into metric
// updates so the engine stays free of a prometheus dependency.
func (m *StakingMetrics) Emit(e events.Event) {
	if m == nil || e == nil {
		return
	}
	switch evt := e.(type) {
	case events.StakeOpened:
		m.opsTotal.WithLabelValues("stake").Inc()
	case events.StakeRewardsClaimed:
		m.opsTotal.WithLabelValues("claim").Inc()
		m.addAmount(m.rewardsPaid, evt.Reward)
	case events.StakeWithdrawn:
		m.opsTotal.WithLabelValues("withdraw").Inc()
		m.addAmount(m.rewardsPaid, evt.Reward)
	case events.StakeEmergencyWithdrawn:
		m.opsTotal.WithLabelValues("emergencyWithdraw").Inc()
		m.addAmount(m.feesRetained, evt.Fee)
	case events.StakePauseChanged:
		if evt.Paused {
			m.pauseState.Set(1)
		} else {
			m.pauseState.Set(0)
		}
	case events.StakePolicyUpdated:
		m.opsTotal.WithLabelValues("policyUpdate").Inc()
	case events.StakeTokenRecovered:
		m.opsTotal.WithLabelValues("recoverToken").Inc()
	}
}

func (m *StakingMetrics) addAmount(counter prometheus.Counter, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	counter.Add(value)
}
