package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/types"
	"github.com/fleetscore/fleetscore/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	DeviceID   string     `json:"device_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine evaluates alert rules against device scores and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "ruleName:deviceID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	client   *http.Client
	metrics  *metrics.Server
	inflight sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// New creates an Engine from the server alert configuration. m may be nil.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig, m *metrics.Server) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		metrics:  m,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Reconfigure swaps in reloaded rules and webhooks. Active alerts whose rule
// no longer exists are dropped without a resolve notification.
func (e *Engine) Reconfigure(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = cfg.Rules
	e.webhooks = cfg.Webhooks

	names := make(map[string]struct{}, len(cfg.Rules))
	for _, r := range cfg.Rules {
		names[r.Name] = struct{}{}
	}
	for key, a := range e.active {
		if _, ok := names[a.RuleName]; !ok {
			delete(e.active, key)
			delete(e.lastFire, key)
		}
	}
	slog.Info("alerts: rules reloaded", "rules", len(cfg.Rules), "webhooks", len(cfg.Webhooks))
}

// EvaluateFleet runs Evaluate for every device that has a score in snap.
func (e *Engine) EvaluateFleet(snap types.FleetSnapshot, devices []types.Device) {
	byID := make(map[string]types.Device, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}
	for _, s := range snap.Scores {
		e.Evaluate(byID[s.DeviceID], s)
	}
}

// Evaluate tests all configured rules against one device and its score.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(dev types.Device, score types.Score) {
	id := score.DeviceID
	if id == "" {
		id = dev.ID
	}

	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	now := e.now()
	for _, rule := range rules {
		key := rule.Name + ":" + id
		fires, value := evalCondition(rule.Condition, dev, score)

		e.mu.Lock()
		var notify *Alert
		if fires {
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if now.Sub(e.lastFire[key]) > cooldown {
				sev := rule.Severity
				if sev == "" {
					sev = "warning"
				}
				a := &Alert{
					ID:       e.newID(),
					RuleName: rule.Name,
					DeviceID: id,
					Severity: sev,
					Value:    value,
					Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
						sev, rule.Name, id, rule.Condition, value),
					FiredAt: now,
					State:   StateFiring,
				}
				e.active[key] = a
				e.lastFire[key] = now
				cp := *a
				notify = &cp
			}
		} else if a, ok := e.active[key]; ok && a.State == StateFiring {
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
		}
		e.mu.Unlock()

		if notify == nil {
			continue
		}
		if notify.State == StateFiring {
			slog.Warn("alerts: fired",
				"rule", rule.Name, "device", id, "value", value, "severity", notify.Severity)
			if e.metrics != nil {
				e.metrics.AlertsFired.WithLabelValues(notify.Severity).Inc()
			}
		} else {
			slog.Info("alerts: resolved", "rule", rule.Name, "device", id)
		}
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			e.deliver(notify)
		}()
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Wait blocks until every webhook delivery started so far has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}
