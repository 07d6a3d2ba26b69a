package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/openquill/voxsignal/internal/log"
)

const (
	DefaultSweepInterval = time.Hour
	DefaultRetention     = 24 * time.Hour
)

type Config struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Retention     time.Duration `mapstructure:"retention"`
}

func Setup(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".sweep_interval", DefaultSweepInterval)
	v.SetDefault(prefix+".retention", DefaultRetention)
}

// UserStats tracks per-user activity inside a single voice channel.
// Entries outlive the user so speaking totals survive a rejoin.
type UserStats struct {
	UserID          string        `json:"user_id"`
	JoinedAt        time.Time     `json:"joined_at"`
	SpeakingTime    time.Duration `json:"speaking_time"`
	Speaking        bool          `json:"speaking"`
	ConnectionDrops int64         `json:"connection_drops"`

	speakingSince time.Time
}

// ChannelStats is a point-in-time report for one channel.
type ChannelStats struct {
	RoomID            string               `json:"room_id"`
	StartTime         time.Time            `json:"start_time"`
	Uptime            time.Duration        `json:"uptime"`
	CurrentUsers      int                  `json:"current_users"`
	PeakUsers         int                  `json:"peak_users"`
	TotalJoins        int64                `json:"total_joins"`
	TotalSpeakingTime time.Duration        `json:"total_speaking_time"`
	ConnectionIssues  int64                `json:"connection_issues"`
	Users             map[string]UserStats `json:"users"`
}

type channelStats struct {
	roomID            string
	startTime         time.Time
	currentUsers      int
	peakUsers         int
	totalJoins        int64
	totalSpeakingTime time.Duration
	connectionIssues  int64
	users             map[string]*UserStats
}

// Monitor aggregates voice activity across channels. All record methods
// are safe for concurrent use; stale channels are swept periodically.
type Monitor struct {
	mu       sync.Mutex
	stats    map[string]*channelStats
	interval time.Duration
	maxAge   time.Duration
	clock    clockwork.Clock
	cancel   context.CancelFunc
	logger   *log.Logger
}

func New(cfg Config, logger *log.Logger) *Monitor {
	return newWithClock(cfg, logger, clockwork.NewRealClock())
}

func newWithClock(cfg Config, logger *log.Logger, clock clockwork.Clock) *Monitor {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Monitor{
		stats:    make(map[string]*channelStats),
		interval: cfg.SweepInterval,
		maxAge:   cfg.Retention,
		clock:    clock,
		logger:   logger,
	}
}

func (m *Monitor) Start(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)

	ctx, m.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ticker.Chan():
				m.sweepOnce()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) RecordUserJoined(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	cs, ok := m.stats[roomID]
	if !ok {
		cs = &channelStats{
			roomID:    roomID,
			startTime: now,
			users:     make(map[string]*UserStats),
		}
		m.stats[roomID] = cs
	}

	cs.currentUsers++
	cs.totalJoins++
	if cs.currentUsers > cs.peakUsers {
		cs.peakUsers = cs.currentUsers
	}

	us, ok := cs.users[userID]
	if !ok {
		us = &UserStats{UserID: userID}
		cs.users[userID] = us
	}
	us.JoinedAt = now

	userJoins.Add(context.Background(), 1)
	activeUsers.Add(context.Background(), 1)
}

func (m *Monitor) RecordUserLeft(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.stats[roomID]
	if !ok {
		return
	}

	if cs.currentUsers > 0 {
		cs.currentUsers--
		activeUsers.Add(context.Background(), -1)
	}

	// close any open speaking interval so time is not lost
	if us, ok := cs.users[userID]; ok && us.Speaking {
		elapsed := m.clock.Now().Sub(us.speakingSince)
		us.SpeakingTime += elapsed
		cs.totalSpeakingTime += elapsed
		us.Speaking = false
	}
}

func (m *Monitor) RecordSpeakingState(roomID, userID string, speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.stats[roomID]
	if !ok {
		return
	}
	us, ok := cs.users[userID]
	if !ok {
		return
	}

	now := m.clock.Now()
	switch {
	case speaking && !us.Speaking:
		us.Speaking = true
		us.speakingSince = now
	case !speaking && us.Speaking:
		us.Speaking = false
		elapsed := now.Sub(us.speakingSince)
		us.SpeakingTime += elapsed
		cs.totalSpeakingTime += elapsed
	}
}

// RecordConnectionIssue counts an abnormal drop. userID may be empty
// when the drop cannot be attributed to a tracked member.
func (m *Monitor) RecordConnectionIssue(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs, ok := m.stats[roomID]; ok {
		cs.connectionIssues++
		if us, ok := cs.users[userID]; ok {
			us.ConnectionDrops++
		}
	}
	connectionIssues.Add(context.Background(), 1)
}

// ChannelReport returns a deep-copied snapshot, false when the channel
// is unknown or already swept.
func (m *Monitor) ChannelReport(roomID string) (ChannelStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.stats[roomID]
	if !ok {
		return ChannelStats{}, false
	}
	return cs.snapshot(m.clock.Now()), true
}

func (m *Monitor) Reports() []ChannelStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	reports := make([]ChannelStats, 0, len(m.stats))
	for _, cs := range m.stats {
		reports = append(reports, cs.snapshot(now))
	}
	return reports
}

func (m *Monitor) sweepOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-m.maxAge)

	evicted := 0
	for roomID, cs := range m.stats {
		if cs.startTime.Before(cutoff) {
			delete(m.stats, roomID)
			evicted++
		}
	}

	sweepRuns.Add(context.Background(), 1)
	if evicted > 0 {
		sweepEvictions.Add(context.Background(), int64(evicted))
		m.logger.Info("swept stale channel stats",
			log.Int("evicted", evicted),
			log.Int("remaining", len(m.stats)))
	}
}

func (cs *channelStats) snapshot(now time.Time) ChannelStats {
	users := make(map[string]UserStats, len(cs.users))
	for id, us := range cs.users {
		users[id] = *us
	}
	return ChannelStats{
		RoomID:            cs.roomID,
		StartTime:         cs.startTime,
		Uptime:            now.Sub(cs.startTime),
		CurrentUsers:      cs.currentUsers,
		PeakUsers:         cs.peakUsers,
		TotalJoins:        cs.totalJoins,
		TotalSpeakingTime: cs.totalSpeakingTime,
		ConnectionIssues:  cs.connectionIssues,
		Users:             users,
	}
}
