package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-stream-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// TaskSnapshotProvider provides the stats of a set of stream tasks.
type TaskSnapshotProvider interface {
	TaskStats() []core.TaskStats
}

// SlotSnapshotProvider provides current task manager slot stats.
type SlotSnapshotProvider interface {
	Stats() core.SlotStats
}

// CheckpointSnapshotProvider provides checkpoint coordinator progress.
type CheckpointSnapshotProvider interface {
	CheckpointStats() core.CheckpointStats
}

// SnapshotPoller periodically exports task, slot and checkpoint snapshots
// into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	providersMu sync.RWMutex
	tasks       map[string]TaskSnapshotProvider
	slots       map[string]SlotSnapshotProvider
	checkpoints map[string]CheckpointSnapshotProvider

	taskPending     *prom.GaugeVec
	taskMails       *prom.GaugeVec
	taskQuanta      *prom.GaugeVec
	taskSuspensions *prom.GaugeVec
	taskProcessed   *prom.GaugeVec
	taskEmitted     *prom.GaugeVec
	taskClosed      *prom.GaugeVec

	slotTotal   *prom.GaugeVec
	slotQueued  *prom.GaugeVec
	slotActive  *prom.GaugeVec
	slotRunning *prom.GaugeVec

	checkpointLastTriggered *prom.GaugeVec
	checkpointLastCompleted *prom.GaugeVec
	checkpointPending       *prom.GaugeVec
	checkpointCompleted     *prom.GaugeVec
	checkpointTimedOut      *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "streamrunner"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval:    interval,
		tasks:       make(map[string]TaskSnapshotProvider),
		slots:       make(map[string]SlotSnapshotProvider),
		checkpoints: make(map[string]CheckpointSnapshotProvider),

		taskPending:     gauge("task_pending_mails", "Queued mails per task.", "job", "task"),
		taskMails:       gauge("task_mails_executed", "Executed mail count snapshot per task.", "job", "task"),
		taskQuanta:      gauge("task_default_quanta", "Default action quanta snapshot per task.", "job", "task"),
		taskSuspensions: gauge("task_suspensions", "Default action suspensions snapshot per task.", "job", "task"),
		taskProcessed:   gauge("task_records_processed", "Records consumed snapshot per task.", "job", "task"),
		taskEmitted:     gauge("task_records_emitted", "Records emitted snapshot per task.", "job", "task"),
		taskClosed:      gauge("task_closed", "Task mailbox closed state (1=closed, 0=open).", "job", "task"),

		slotTotal:   gauge("slots", "Configured slots per task manager.", "task_manager"),
		slotQueued:  gauge("slots_queued", "Tasks waiting for a slot.", "task_manager"),
		slotActive:  gauge("slots_active", "Slots running a task.", "task_manager"),
		slotRunning: gauge("task_manager_running", "Task manager running state (1=running, 0=stopped).", "task_manager"),

		checkpointLastTriggered: gauge("checkpoint_last_triggered_id", "Most recently triggered checkpoint id.", "job"),
		checkpointLastCompleted: gauge("checkpoint_last_completed_id", "Most recently completed checkpoint id.", "job"),
		checkpointPending:       gauge("checkpoint_pending", "Checkpoints waiting for acknowledgements.", "job"),
		checkpointCompleted:     gauge("checkpoint_completed", "Completed checkpoint count snapshot.", "job"),
		checkpointTimedOut:      gauge("checkpoint_timed_out", "Timed out checkpoint count snapshot.", "job"),
	}

	for _, target := range []**prom.GaugeVec{
		&p.taskPending, &p.taskMails, &p.taskQuanta, &p.taskSuspensions,
		&p.taskProcessed, &p.taskEmitted, &p.taskClosed,
		&p.slotTotal, &p.slotQueued, &p.slotActive, &p.slotRunning,
		&p.checkpointLastTriggered, &p.checkpointLastCompleted, &p.checkpointPending,
		&p.checkpointCompleted, &p.checkpointTimedOut,
	} {
		registered, err := registerCollector(reg, *target)
		if err != nil {
			return nil, err
		}
		*target = registered
	}
	return p, nil
}

// AddTasks adds or replaces a task stats provider by job name.
func (p *SnapshotPoller) AddTasks(job string, provider TaskSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.providersMu.Lock()
	p.tasks[normalizeLabel(job, "job")] = provider
	p.providersMu.Unlock()
}

// AddSlots adds or replaces a slot stats provider by task manager name.
func (p *SnapshotPoller) AddSlots(name string, provider SlotSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.providersMu.Lock()
	p.slots[normalizeLabel(name, "task_manager")] = provider
	p.providersMu.Unlock()
}

// AddCheckpoints adds or replaces a checkpoint stats provider by job name.
func (p *SnapshotPoller) AddCheckpoints(job string, provider CheckpointSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.providersMu.Lock()
	p.checkpoints[normalizeLabel(job, "job")] = provider
	p.providersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()

	cancel()
	<-done
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce refreshes every gauge from the registered providers.
func (p *SnapshotPoller) CollectOnce() {
	p.providersMu.RLock()
	defer p.providersMu.RUnlock()

	for job, provider := range p.tasks {
		for _, stats := range provider.TaskStats() {
			task := normalizeLabel(stats.Name, "unknown")
			p.taskPending.WithLabelValues(job, task).Set(float64(stats.Pending))
			p.taskMails.WithLabelValues(job, task).Set(float64(stats.MailsExecuted))
			p.taskQuanta.WithLabelValues(job, task).Set(float64(stats.Quanta))
			p.taskSuspensions.WithLabelValues(job, task).Set(float64(stats.Suspensions))
			p.taskProcessed.WithLabelValues(job, task).Set(float64(stats.RecordsProcessed))
			p.taskEmitted.WithLabelValues(job, task).Set(float64(stats.RecordsEmitted))
			p.taskClosed.WithLabelValues(job, task).Set(boolGauge(stats.State == core.MailboxClosed.String()))
		}
	}

	for name, provider := range p.slots {
		stats := provider.Stats()
		p.slotTotal.WithLabelValues(name).Set(float64(stats.Slots))
		p.slotQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.slotActive.WithLabelValues(name).Set(float64(stats.Active))
		p.slotRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}

	for job, provider := range p.checkpoints {
		stats := provider.CheckpointStats()
		p.checkpointLastTriggered.WithLabelValues(job).Set(float64(stats.LastTriggeredID))
		p.checkpointLastCompleted.WithLabelValues(job).Set(float64(stats.LastCompletedID))
		p.checkpointPending.WithLabelValues(job).Set(float64(stats.Pending))
		p.checkpointCompleted.WithLabelValues(job).Set(float64(stats.Completed))
		p.checkpointTimedOut.WithLabelValues(job).Set(float64(stats.TimedOut))
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
