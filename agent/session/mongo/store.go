// Package mongo implements session.LifecycleStore on top of MongoDB,
// grounded on features/session/mongo/clients/mongo/client.go's
// filter-upsert-reload pattern, adapted to the mongo-driver/v2 API.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentloop/core/agent/session"
)

const (
	defaultSessionsCollection = "agent_sessions"
	defaultRunsCollection     = "agent_runs"
	defaultOpTimeout          = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	SessionsCollection string
	RunsCollection     string
	Timeout            time.Duration
}

// Store implements session.LifecycleStore backed by MongoDB.
type Store struct {
	sessions *mongodriver.Collection
	runs     *mongodriver.Collection
	timeout  time.Duration
}

// New returns a Store using opts.Client, creating the unique index on
// session_id/run_id if it does not already exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	sessionsColl := opts.SessionsCollection
	if sessionsColl == "" {
		sessionsColl = defaultSessionsCollection
	}
	runsColl := opts.RunsCollection
	if runsColl == "" {
		runsColl = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	s := &Store{
		sessions: db.Collection(sessionsColl),
		runs:     db.Collection(runsColl),
		timeout:  timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.sessions.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.runs.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type sessionDocument struct {
	SessionID string     `bson:"session_id"`
	Status    string     `bson:"status"`
	CreatedAt time.Time  `bson:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

func (d sessionDocument) toSession() session.Session {
	return session.Session{
		ID: d.SessionID, Status: session.Status(d.Status), CreatedAt: d.CreatedAt, EndedAt: d.EndedAt,
	}
}

// CreateSession implements session.LifecycleStore.
func (s *Store) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("mongo: session id is required")
	}
	existing, err := s.LoadSession(ctx, sessionID)
	if err == nil {
		if existing.Status == session.StatusEnded {
			return session.Session{}, session.ErrSessionEnded
		}
		return existing, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return session.Session{}, err
	}

	now := time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"status":     string(session.StatusActive),
			"created_at": createdAt.UTC(),
			"updated_at": now,
		},
	}
	if _, err := s.sessions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return session.Session{}, err
	}
	return s.LoadSession(ctx, sessionID)
}

// LoadSession implements session.LifecycleStore.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (session.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, session.ErrSessionNotFound
		}
		return session.Session{}, err
	}
	return doc.toSession(), nil
}

// EndSession implements session.LifecycleStore.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	existing, err := s.LoadSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if existing.Status == session.StatusEnded {
		return existing, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{"$set": bson.M{
		"status": string(session.StatusEnded), "ended_at": endedAt.UTC(), "updated_at": time.Now().UTC(),
	}}
	if _, err := s.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, update); err != nil {
		return session.Session{}, err
	}
	return s.LoadSession(ctx, sessionID)
}

type runDocument struct {
	AgentID   string            `bson:"agent_id"`
	RunID     string            `bson:"run_id"`
	SessionID string            `bson:"session_id"`
	Status    string            `bson:"status"`
	StartedAt time.Time         `bson:"started_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
	Labels    map[string]string `bson:"labels,omitempty"`
	Metadata  bson.M            `bson:"metadata,omitempty"`
}

func (d runDocument) toRunMeta() session.RunMeta {
	meta := make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		meta[k] = v
	}
	return session.RunMeta{
		AgentID: d.AgentID, RunID: d.RunID, SessionID: d.SessionID, Status: session.RunStatus(d.Status),
		StartedAt: d.StartedAt, UpdatedAt: d.UpdatedAt, Labels: d.Labels, Metadata: meta,
	}
}

// UpsertRun implements session.LifecycleStore.
func (s *Store) UpsertRun(ctx context.Context, run session.RunMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"agent_id": run.AgentID, "session_id": run.SessionID, "status": string(run.Status),
		"started_at": run.StartedAt.UTC(), "updated_at": now, "labels": run.Labels, "metadata": bson.M(run.Metadata),
	}}
	_, err := s.runs.UpdateOne(ctx, bson.M{"run_id": run.RunID}, update, options.UpdateOne().SetUpsert(true))
	return err
}

// LoadRun implements session.LifecycleStore.
func (s *Store) LoadRun(ctx context.Context, runID string) (session.RunMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := s.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.RunMeta{}, session.ErrRunNotFound
		}
		return session.RunMeta{}, err
	}
	return doc.toRunMeta(), nil
}

// ListRunsBySession implements session.LifecycleStore.
func (s *Store) ListRunsBySession(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	if len(statuses) > 0 {
		vals := make(bson.A, 0, len(statuses))
		for _, st := range statuses {
			vals = append(vals, string(st))
		}
		filter["status"] = bson.M{"$in": vals}
	}
	cur, err := s.runs.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []session.RunMeta
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRunMeta())
	}
	return out, cur.Err()
}
