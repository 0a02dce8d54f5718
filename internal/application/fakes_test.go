package application

import (
	"context"
	"errors"
	"sync"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// errForced is returned by fakes configured to fail.
var errForced = errors.New("forced failure")

// fakeCredentialStore is an in-memory driven.CredentialStore.
type fakeCredentialStore struct {
	mu    sync.Mutex
	creds map[int64]model.Credential
	fail  bool
	err   error // returned by Get and Upsert when set, e.g. driven.ErrEncryptionKeyNotSet
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{creds: make(map[int64]model.Credential)}
}

func (f *fakeCredentialStore) Get(_ context.Context, callerID int64) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.fail {
		return nil, errForced
	}
	cred, ok := f.creds[callerID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (f *fakeCredentialStore) Upsert(_ context.Context, cred model.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.fail {
		return errForced
	}
	f.creds[cred.CallerID] = cred
	return nil
}

func (f *fakeCredentialStore) Delete(_ context.Context, callerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, callerID)
	return nil
}

// fakeProfileStore is an in-memory driven.ProfileStore that counts
// bookkeeping calls.
type fakeProfileStore struct {
	mu        sync.Mutex
	profiles  map[int64]model.CallerProfile
	successes map[int64]int
	failures  map[int64]int
	fail      bool
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		profiles:  make(map[int64]model.CallerProfile),
		successes: make(map[int64]int),
		failures:  make(map[int64]int),
	}
}

func (f *fakeProfileStore) Get(_ context.Context, callerID int64) (*model.CallerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errForced
	}
	profile, ok := f.profiles[callerID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (f *fakeProfileStore) Upsert(_ context.Context, profile model.CallerProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.CallerID] = profile
	return nil
}

func (f *fakeProfileStore) RecordUpstreamSuccess(_ context.Context, callerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errForced
	}
	f.successes[callerID]++
	return nil
}

func (f *fakeProfileStore) RecordUpstreamFailure(_ context.Context, callerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errForced
	}
	f.failures[callerID]++
	return nil
}

// fakeSnapshotStore is an in-memory driven.SnapshotStore.
type fakeSnapshotStore struct {
	mu       sync.Mutex
	system   []model.SystemSnapshot
	regional []model.RegionalSnapshot
	fail     bool
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{}
}

func (f *fakeSnapshotStore) InsertSystem(_ context.Context, snap model.SystemSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errForced
	}
	f.system = append(f.system, snap)
	return nil
}

func (f *fakeSnapshotStore) InsertRegional(_ context.Context, snaps []model.RegionalSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errForced
	}
	f.regional = append(f.regional, snaps...)
	return nil
}

func (f *fakeSnapshotStore) LatestSystem(_ context.Context, scopeHash string) (*model.SystemSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.system) - 1; i >= 0; i-- {
		if f.system[i].ScopeHash == scopeHash {
			snap := f.system[i]
			return &snap, nil
		}
	}
	return nil, nil
}

func (f *fakeSnapshotStore) LatestRegional(_ context.Context, scopeHash string) ([]model.RegionalSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RegionalSnapshot
	for _, snap := range f.regional {
		if snap.ScopeHash == scopeHash {
			out = append(out, snap)
		}
	}
	return out, nil
}

// fakeExecutor is a scripted driven.Executor recording the requests it
// receives.
type fakeExecutor struct {
	mu        sync.Mutex
	requests  []model.UpstreamRequest
	envelopes []model.Envelope
	err       error
	reachable bool
}

func (f *fakeExecutor) Execute(_ context.Context, req model.UpstreamRequest, _ model.Credential) (model.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.envelopes) == 0 {
		return model.Envelope{"Protocol": model.ProtocolDataset, "Heading": []any{}, "Data": []any{}}, nil
	}
	env := f.envelopes[0]
	if len(f.envelopes) > 1 {
		f.envelopes = f.envelopes[1:]
	}
	return env, nil
}

func (f *fakeExecutor) Probe(_ context.Context) bool {
	return f.reachable
}

func (f *fakeExecutor) lastSQL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	sqlText, _ := f.requests[len(f.requests)-1].Fields["SQL"].(string)
	return sqlText
}

// datasetEnvelope builds a DATASET envelope from columns and rows, the way
// the upstream would serialize one.
func datasetEnvelope(columns []string, rows ...[]any) model.Envelope {
	heading := make([]any, len(columns))
	for i, c := range columns {
		heading[i] = c
	}
	data := make([]any, len(rows))
	for i, r := range rows {
		data[i] = r
	}
	return model.Envelope{
		"Protocol": model.ProtocolDataset,
		"Heading":  heading,
		"Data":     data,
	}
}

var (
	_ driven.CredentialStore = (*fakeCredentialStore)(nil)
	_ driven.ProfileStore    = (*fakeProfileStore)(nil)
	_ driven.SnapshotStore   = (*fakeSnapshotStore)(nil)
	_ driven.Executor        = (*fakeExecutor)(nil)
)
