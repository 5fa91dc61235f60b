// Package audit persists engine output events to the local audit database.
// The sink is fire-and-forget: events are handed over on a buffered channel
// and dropped (with a counter) when the writer falls behind, so a slow disk
// can never stall decision generation.
package audit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/dissent/internal/correlation"
	"github.com/aristath/dissent/internal/database"
	"github.com/aristath/dissent/internal/domain"
	"github.com/aristath/dissent/internal/events"
)

const queueSize = 256

type record struct {
	kind      string
	createdAt time.Time
	write     func() error
}

// Sink consumes SignalDisagreement and CorrelationAlert events and writes
// them to the audit database in the background.
type Sink struct {
	db      *database.DB
	log     zerolog.Logger
	queue   chan record
	wg      sync.WaitGroup
	dropped atomic.Int64
	now     func() time.Time
}

// NewSink creates the schema and starts the background writer.
func NewSink(db *database.DB, log zerolog.Logger) (*Sink, error) {
	s := &Sink{
		db:    db,
		log:   log.With().Str("component", "audit_sink").Logger(),
		queue: make(chan record, queueSize),
		now:   time.Now,
	}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *Sink) createSchema() error {
	_, err := s.db.Conn().Exec(`
		CREATE TABLE IF NOT EXISTS disagreements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			participation_rate REAL NOT NULL,
			disagreement_rate REAL NOT NULL,
			corrections INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_disagreements_signal ON disagreements(signal_id);

		CREATE TABLE IF NOT EXISTS correlation_alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair_id TEXT NOT NULL,
			correlation REAL NOT NULL,
			severity TEXT NOT NULL,
			recommended_action TEXT NOT NULL,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_pair ON correlation_alerts(pair_id);
	`)
	return err
}

func (s *Sink) run() {
	defer s.wg.Done()
	for rec := range s.queue {
		if err := rec.write(); err != nil {
			s.log.Error().Err(err).Str("kind", rec.kind).Msg("Failed to write audit record")
		}
	}
}

// enqueue hands a record to the writer without blocking.
func (s *Sink) enqueue(rec record) {
	select {
	case s.queue <- rec:
	default:
		n := s.dropped.Add(1)
		s.log.Warn().Int64("dropped_total", n).Str("kind", rec.kind).Msg("Audit queue full, dropping record")
	}
}

// RecordDisagreement persists one processed signal. Never blocks.
func (s *Sink) RecordDisagreement(sd domain.SignalDisagreement) {
	createdAt := s.now().UTC()
	s.enqueue(record{
		kind:      "disagreement",
		createdAt: createdAt,
		write: func() error {
			payload, err := msgpack.Marshal(sd)
			if err != nil {
				return fmt.Errorf("failed to encode disagreement payload: %w", err)
			}
			_, err = s.db.Conn().Exec(
				`INSERT INTO disagreements (signal_id, symbol, participation_rate, disagreement_rate, corrections, created_at, payload)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				sd.SignalID,
				sd.OriginalSignal.Symbol,
				sd.Metrics.ParticipationRate,
				sd.DisagreementRate(),
				len(sd.Adjustments),
				createdAt.Format(time.RFC3339),
				payload,
			)
			if err == nil {
				s.logEvent(&events.DisagreementRecordedData{
					SignalID:          sd.SignalID,
					Symbol:            sd.OriginalSignal.Symbol,
					Accounts:          len(sd.Decisions),
					ParticipationRate: sd.Metrics.ParticipationRate,
					DisagreementRate:  sd.DisagreementRate(),
					Corrections:       len(sd.Adjustments),
				})
			}
			return err
		},
	})
}

// RecordAlerts persists a batch of correlation alerts. Never blocks.
func (s *Sink) RecordAlerts(alerts []correlation.Alert) {
	for _, alert := range alerts {
		alert := alert
		createdAt := s.now().UTC()
		s.enqueue(record{
			kind:      "alert",
			createdAt: createdAt,
			write: func() error {
				payload, err := msgpack.Marshal(alert)
				if err != nil {
					return fmt.Errorf("failed to encode alert payload: %w", err)
				}
				_, err = s.db.Conn().Exec(
					`INSERT INTO correlation_alerts (pair_id, correlation, severity, recommended_action, created_at, payload)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					alert.PairID,
					alert.Correlation,
					string(alert.Severity),
					alert.RecommendedAction,
					createdAt.Format(time.RFC3339),
					payload,
				)
				if err == nil {
					s.logEvent(&events.CorrelationAlertData{
						PairID:            alert.PairID,
						Correlation:       alert.Correlation,
						Severity:          string(alert.Severity),
						RecommendedAction: alert.RecommendedAction,
						Timestamp:         alert.Timestamp,
					})
				}
				return err
			},
		})
	}
}

// logEvent emits the typed event to the structured log stream alongside the
// database write, so log consumers see the same audit trail.
func (s *Sink) logEvent(data events.EventData) {
	s.log.Info().
		Str("event", string(data.EventType())).
		Interface("data", data).
		Msg("Audit event")
}

// Dropped returns how many records were discarded because the queue was full.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// CountDisagreements returns the number of persisted disagreement records.
func (s *Sink) CountDisagreements() (int, error) {
	var count int
	err := s.db.Conn().QueryRow(`SELECT COUNT(*) FROM disagreements`).Scan(&count)
	return count, err
}

// ReadDisagreement loads one persisted disagreement payload back.
func (s *Sink) ReadDisagreement(signalID string) (domain.SignalDisagreement, error) {
	var payload []byte
	err := s.db.Conn().QueryRow(
		`SELECT payload FROM disagreements WHERE signal_id = ? ORDER BY id DESC LIMIT 1`,
		signalID,
	).Scan(&payload)
	if err != nil {
		return domain.SignalDisagreement{}, err
	}

	var sd domain.SignalDisagreement
	if err := msgpack.Unmarshal(payload, &sd); err != nil {
		return domain.SignalDisagreement{}, fmt.Errorf("failed to decode disagreement payload: %w", err)
	}
	return sd, nil
}

// CountAlerts returns the number of persisted alert records.
func (s *Sink) CountAlerts() (int, error) {
	var count int
	err := s.db.Conn().QueryRow(`SELECT COUNT(*) FROM correlation_alerts`).Scan(&count)
	return count, err
}

// Close drains the queue and stops the writer.
func (s *Sink) Close() {
	close(s.queue)
	s.wg.Wait()
}
