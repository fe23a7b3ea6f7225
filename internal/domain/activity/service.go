// Package activity builds dashboard statistics and the merged system log
// from diagnoses, users, models and admin notifications.
package activity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cardiodx/cardiodx/internal/domain/diagnosis"
	"github.com/cardiodx/cardiodx/internal/domain/inbox"
	"github.com/cardiodx/cardiodx/internal/domain/mlmodel"
	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/internal/domain/users"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/pkg/riskscore"
)

const (
	// SystemLogLimit caps the merged system log.
	SystemLogLimit = 100
	// RecentLimit caps the admin dashboard feed.
	RecentLimit = 8

	sourceLimit   = 50
	topConditions = 4
)

type DiagnosisSource interface {
	ListByDoctor(ctx context.Context, doctorID string) ([]*diagnosis.Diagnosis, error)
	ListRecent(ctx context.Context, limit int) ([]*diagnosis.Diagnosis, error)
}

type PatientSource interface {
	List(ctx context.Context, params patient.ListParams) ([]*patient.Patient, int, error)
}

type UserSource interface {
	List(ctx context.Context, status string) ([]*users.User, error)
}

type ModelSource interface {
	List(ctx context.Context) ([]*mlmodel.MLModel, error)
}

type NotificationSource interface {
	AdminNotifications(ctx context.Context, limit int) ([]*inbox.Notification, error)
}

type Service struct {
	diagnoses     DiagnosisSource
	patients      PatientSource
	users         UserSource
	models        ModelSource
	notifications NotificationSource
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(diagnoses DiagnosisSource, patients PatientSource, users UserSource,
	models ModelSource, notifications NotificationSource, logger zerolog.Logger) *Service {
	return &Service{
		diagnoses:     diagnoses,
		patients:      patients,
		users:         users,
		models:        models,
		notifications: notifications,
		logger:        logger.With().Str("component", "activity").Logger(),
		now:           time.Now,
	}
}

// DoctorStats summarizes one doctor's diagnoses and patients.
func (s *Service) DoctorStats(ctx context.Context, doctorID string) (*DoctorStats, error) {
	var (
		items         []*diagnosis.Diagnosis
		totalPatients int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.diagnoses.ListByDoctor(gctx, doctorID)
		if err != nil {
			return fmt.Errorf("list diagnoses: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		_, totalPatients, err = s.patients.List(gctx, patient.ListParams{DoctorID: doctorID, Limit: 1})
		if err != nil {
			return fmt.Errorf("count patients: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := Summarize(items)
	stats.TotalPatients = totalPatients
	return stats, nil
}

// Summarize computes the diagnosis-derived statistics. items are expected
// newest first.
func Summarize(items []*diagnosis.Diagnosis) *DoctorStats {
	stats := &DoctorStats{
		TotalDiagnoses: len(items),
		RiskDistribution: map[string]int{
			riskscore.LevelLow:      0,
			riskscore.LevelModerate: 0,
			riskscore.LevelHigh:     0,
			riskscore.LevelCritical: 0,
		},
		TopConditions:       []ConditionCount{},
		AttentionPatientIDs: []uuid.UUID{},
	}

	var confidence float64
	counts := map[string]int{}
	seen := map[uuid.UUID]bool{}
	for _, d := range items {
		level := strings.ToLower(d.RiskLevel())
		if _, ok := stats.RiskDistribution[level]; ok {
			stats.RiskDistribution[level]++
		}
		if d.AIPrediction != nil {
			confidence += d.AIPrediction.Confidence
			for _, c := range d.AIPrediction.PredictedConditions {
				if name := strings.ToLower(strings.TrimSpace(c.Condition)); name != "" {
					counts[name]++
				}
			}
		}
		if seen[d.PatientID] {
			continue
		}
		seen[d.PatientID] = true
		if level == riskscore.LevelHigh || level == riskscore.LevelCritical || d.Status == diagnosis.StatusFollowUpRequired {
			stats.AttentionPatientIDs = append(stats.AttentionPatientIDs, d.PatientID)
		}
	}
	stats.PatientsNeedingAttention = len(stats.AttentionPatientIDs)
	if len(items) > 0 {
		stats.AverageConfidence = math.Round(confidence / float64(len(items)))
	}

	for name, n := range counts {
		stats.TopConditions = append(stats.TopConditions, ConditionCount{Condition: name, Count: n})
	}
	sort.Slice(stats.TopConditions, func(i, j int) bool {
		a, b := stats.TopConditions[i], stats.TopConditions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Condition < b.Condition
	})
	if len(stats.TopConditions) > topConditions {
		stats.TopConditions = stats.TopConditions[:topConditions]
	}
	return stats
}

func riskSeverity(level string) string {
	switch level {
	case riskscore.LevelHigh, riskscore.LevelCritical:
		return SeverityAlert
	case riskscore.LevelModerate:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func diagnosisEntry(d *diagnosis.Diagnosis) LogEntry {
	level := d.RiskLevel()
	shown := level
	if shown == "" {
		shown = "N/A"
	}
	return LogEntry{
		Kind:     KindDiagnosis,
		Title:    "Diagnosis recorded",
		Detail:   fmt.Sprintf("Patient %s analyzed with %s risk.", d.PatientID, shown),
		Severity: riskSeverity(strings.ToLower(level)),
		At:       d.CreatedAt,
	}
}

func userEntry(u *users.User) LogEntry {
	name := u.FullName
	if name == "" {
		name = u.Email
	}
	if name == "" {
		name = "User"
	}
	if u.Role == auth.RoleDoctor {
		name = "Dr. " + name
	}
	e := LogEntry{Kind: KindUser, At: u.UpdatedAt}
	switch u.Status {
	case users.StatusActive:
		e.Title, e.Detail, e.Severity = "User active", name+" account was enabled.", SeveritySuccess
	case users.StatusDisabled, users.StatusRejected:
		e.Title, e.Detail, e.Severity = "User disabled", name+" account was disabled.", SeverityAlert
	default:
		e.Title, e.Detail, e.Severity = "Pending approval", name+" is awaiting approval.", SeverityWarning
	}
	return e
}

func modelEntry(m *mlmodel.MLModel) LogEntry {
	title := "Model registered"
	if m.IsActive {
		title = "Model active"
	}
	detail := "Model " + m.ModelName
	if m.Version != "" {
		detail += " v" + m.Version
	}
	return LogEntry{
		Kind:     KindModel,
		Title:    title,
		Detail:   detail + " (" + m.ModelType + ").",
		Severity: SeverityInfo,
		At:       m.UpdatedAt,
	}
}

func notificationEntry(n *inbox.Notification) LogEntry {
	sev := SeverityInfo
	switch n.Type {
	case inbox.TypeAlert:
		sev = SeverityAlert
	case inbox.TypeWarning:
		sev = SeverityWarning
	case inbox.TypeSuccess:
		sev = SeveritySuccess
	}
	return LogEntry{Kind: KindSystem, Title: n.Title, Detail: n.Message, Severity: sev, At: n.CreatedAt}
}

// SystemLog merges the latest events from every source, newest first.
func (s *Service) SystemLog(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > SystemLogLimit {
		limit = SystemLogLimit
	}
	var (
		diags  []*diagnosis.Diagnosis
		people []*users.User
		models []*mlmodel.MLModel
		notes  []*inbox.Notification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		diags, err = s.diagnoses.ListRecent(gctx, sourceLimit)
		return wrap("diagnoses", err)
	})
	g.Go(func() (err error) {
		people, err = s.users.List(gctx, "")
		return wrap("users", err)
	})
	g.Go(func() (err error) {
		models, err = s.models.List(gctx)
		return wrap("models", err)
	})
	g.Go(func() (err error) {
		notes, err = s.notifications.AdminNotifications(gctx, sourceLimit)
		return wrap("notifications", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(diags)+len(people)+len(models)+len(notes))
	for _, d := range diags {
		entries = append(entries, diagnosisEntry(d))
	}
	for _, u := range newest(people, func(u *users.User) time.Time { return u.UpdatedAt }) {
		entries = append(entries, userEntry(u))
	}
	for _, m := range newest(models, func(m *mlmodel.MLModel) time.Time { return m.UpdatedAt }) {
		entries = append(entries, modelEntry(m))
	}
	for _, n := range notes {
		entries = append(entries, notificationEntry(n))
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	now := s.now()
	for i := range entries {
		entries[i].Ago = RelativeTime(entries[i].At, now)
	}
	s.logger.Debug().Int("entries", len(entries)).Int("limit", limit).Msg("system log built")
	return entries, nil
}

// RecentActivity is the admin dashboard feed.
func (s *Service) RecentActivity(ctx context.Context) ([]LogEntry, error) {
	return s.SystemLog(ctx, RecentLimit)
}

func wrap(source string, err error) error {
	if err != nil {
		return fmt.Errorf("load %s: %w", source, err)
	}
	return nil
}

// newest keeps the sourceLimit most recently updated items.
func newest[T any](items []T, at func(T) time.Time) []T {
	out := append([]T(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return at(out[i]).After(at(out[j])) })
	if len(out) > sourceLimit {
		out = out[:sourceLimit]
	}
	return out
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s ago", n, unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// RelativeTime renders how long ago t was.
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 2*time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/(24*time.Hour)), "day")
	}
}
