package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
	"github.com/chainswarm/subnet2/testing/assert"
	"github.com/chainswarm/subnet2/testing/require"
	"github.com/chainswarm/subnet2/validator/dataset"
	"github.com/chainswarm/subnet2/validator/db/iface"
	"github.com/chainswarm/subnet2/validator/db/kv"
	"github.com/chainswarm/subnet2/validator/runner"
	"github.com/chainswarm/subnet2/validator/types"
	"github.com/chainswarm/subnet2/validator/weights"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

// fakeProcessor records validated submissions straight into the store.
type fakeProcessor struct {
	db           iface.Database
	clock        *fakeClock
	participants []string
	removed      []string
}

func (p *fakeProcessor) Collect(ctx context.Context, t *types.Tournament) (int, error) {
	for i, participant := range p.participants {
		now := p.clock.Now().UTC().Add(time.Duration(i) * time.Second)
		sub := &types.Submission{
			ID:            deterministicID(participant),
			TournamentID:  t.ID,
			ParticipantID: participant,
			RepositoryURL: "https://example.com/" + participant + ".git",
			CommitHash:    strings.Repeat("a", 40),
			ImageTag:      "subnet2-eval-" + participant + ":aaaaaaaaaaaa",
			Status:        types.SubmissionValidated,
			SubmittedAt:   now,
			ValidatedAt:   &now,
		}
		if err := p.db.CreateSubmission(ctx, sub); err != nil {
			return 0, err
		}
	}
	return len(p.participants), nil
}

func (p *fakeProcessor) RemoveImage(_ context.Context, imageTag string) error {
	p.removed = append(p.removed, imageTag)
	return nil
}

func deterministicID(participant string) [16]byte {
	var id [16]byte
	copy(id[:], participant)
	return id
}

// script is one participant's sandboxed behavior.
type script struct {
	features  string
	patterns  string
	exitCode  int
	timedOut  bool
	launchErr bool
}

type fakeSandbox struct {
	// keyed by image tag.
	scripts map[string]script
	calls   map[string]int
}

func (f *fakeSandbox) Run(_ context.Context, imageTag, _, outputDir string, _ runner.Limits) (*runner.RunResult, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[imageTag]++
	sc := f.scripts[imageTag]
	if sc.launchErr {
		return nil, errors.Wrap(runner.ErrLaunch, "no such image")
	}
	if sc.timedOut {
		return &runner.RunResult{ExitCode: runner.TimeoutExitCode, WallSeconds: 300, TimedOut: true}, nil
	}
	if sc.exitCode != 0 {
		return &runner.RunResult{ExitCode: sc.exitCode, WallSeconds: 5, TailLog: "traceback"}, nil
	}
	if sc.features != "" {
		if err := os.WriteFile(filepath.Join(outputDir, "features.csv"), []byte(sc.features), 0600); err != nil {
			return nil, err
		}
	}
	if sc.patterns != "" {
		if err := os.WriteFile(filepath.Join(outputDir, "patterns.csv"), []byte(sc.patterns), 0600); err != nil {
			return nil, err
		}
	}
	return &runner.RunResult{ExitCode: 0, WallSeconds: 10}, nil
}

type fakeProvider struct {
	transfers   []dataset.Transfer
	groundTruth map[string]bool
}

func (f fakeProvider) Dir(network string, date time.Time) string {
	return filepath.Join("/datasets", network, date.UTC().Format("2006-01-02"))
}

func (f fakeProvider) Transfers(string, time.Time) ([]dataset.Transfer, error) {
	return f.transfers, nil
}

func (f fakeProvider) GroundTruthIDs(string, time.Time) (map[string]bool, error) {
	return f.groundTruth, nil
}

type fakeSetter struct {
	err     error
	epochs  []uint64
	vectors [][]weights.Weight
}

func (f *fakeSetter) SetWeights(_ context.Context, epoch uint64, w []weights.Weight) error {
	if f.err != nil {
		return f.err
	}
	f.epochs = append(f.epochs, epoch)
	f.vectors = append(f.vectors, w)
	return nil
}

func featuresCSV(addresses ...string) string {
	var b strings.Builder
	b.WriteString("address,degree_in,degree_out,total_amount_in,total_amount_out,tx_count,unique_counterparties,activity_span_hours\n")
	for _, a := range addresses {
		b.WriteString(a + ",1,1,10.0,5.0,2,1,24.0\n")
	}
	return b.String()
}

func patternsCSV(rows ...string) string {
	return "pattern_id,pattern_type,address_path,hop_timestamps\n" + strings.Join(rows, "\n") + "\n"
}

const emptyPatternsCSV = "pattern_id,pattern_type,address_path,hop_timestamps\n"

func testConfig(t *testing.T) *tournamentcfg.Config {
	cfg := tournamentcfg.DefaultConfig()
	cfg.SubmissionDurationSeconds = 60
	cfg.EpochCount = 2
	cfg.EpochDurationSeconds = 600
	cfg.Networks = []string{"torus"}
	cfg.DatasetDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.WorkDir = t.TempDir()
	return cfg
}

type harness struct {
	service   *Service
	store     *kv.Store
	clock     *fakeClock
	processor *fakeProcessor
	sandbox   *fakeSandbox
	setter    *fakeSetter
}

func setup(t *testing.T, cfg *tournamentcfg.Config, participants []string, scripts map[string]script) *harness {
	store, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	processor := &fakeProcessor{db: store, clock: clock, participants: participants}
	sandbox := &fakeSandbox{scripts: scripts}
	setter := &fakeSetter{}

	service, err := New(context.Background(), &Config{
		Tournament: cfg,
		DB:         store,
		Queue:      store,
		Processor:  processor,
		Sandbox:    sandbox,
		Datasets: fakeProvider{
			transfers: []dataset.Transfer{
				{From: "a", To: "b", Amount: "10", Asset: "tor", BlockTime: 100},
				{From: "b", To: "c", Amount: "10", Asset: "tor", BlockTime: 200},
				{From: "c", To: "a", Amount: "10", Asset: "tor", BlockTime: 300},
			},
			groundTruth: map[string]bool{"gt-1": true, "gt-2": true},
		},
		Weights: setter,
	})
	require.NoError(t, err)
	service.now = clock.Now
	t.Cleanup(func() {
		require.NoError(t, service.Stop())
	})
	return &harness{service: service, store: store, clock: clock, processor: processor, sandbox: sandbox, setter: setter}
}

// pump advances the clock to each pending job in turn until the queue
// drains.
func (h *harness) pump(t *testing.T) {
	for i := 0; i < 100; i++ {
		jobs, err := h.store.PendingJobs(context.Background())
		require.NoError(t, err)
		if len(jobs) == 0 {
			return
		}
		if h.clock.t.Before(jobs[0].NotBefore) {
			h.clock.t = jobs[0].NotBefore
		}
		h.service.processNextJob()
	}
	t.Fatal("queue did not drain")
}

func goodScript() script {
	return script{
		features: featuresCSV("a", "b", "c"),
		patterns: patternsCSV(
			"gt-1,cycle,a|b|c,100|200",
			"nov-1,layering_path,b|c,200",
		),
	}
}

func TestTournament_HappyPath(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice", "bob"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
		"subnet2-eval-bob:aaaaaaaaaaaa":   {features: featuresCSV("a"), patterns: emptyPatternsCSV},
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 7))
	h.pump(t)

	tournament, err := h.store.TournamentByEpoch(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentCompleted, tournament.Status)
	require.NotNil(t, tournament.CompletedAt)
	require.NotNil(t, tournament.WeightsSetAt)
	assert.Equal(t, 2, tournament.TotalSubmissions)
	assert.Equal(t, 4, tournament.TotalRuns, "Two submissions across two epochs")

	active, err := h.store.ActiveTournament(ctx)
	require.NoError(t, err)
	if active != nil {
		t.Fatal("completed tournament must release the active slot")
	}

	results, err := h.store.TournamentResults(ctx, tournament.ID)
	require.NoError(t, err)
	require.Equal(t, 2, len(results))
	byParticipant := make(map[string]*types.TournamentResult)
	for _, r := range results {
		byParticipant[r.ParticipantID] = r
	}
	assert.Equal(t, 1, byParticipant["alice"].Rank)
	assert.Equal(t, true, byParticipant["alice"].IsWinner)
	assert.Equal(t, 2, byParticipant["alice"].TotalSyntheticFound)
	assert.Equal(t, 2, byParticipant["alice"].TotalNoveltyValid)
	assert.Equal(t, 2, byParticipant["bob"].Rank)
	assert.Equal(t, false, byParticipant["bob"].Disqualified, "An empty pattern set is legal, just weak")

	require.Equal(t, 1, len(h.setter.vectors))
	assert.Equal(t, uint64(7), h.setter.epochs[0])
	var sum float64
	for _, w := range h.setter.vectors[0] {
		sum += w.Weight
	}
	assert.ApproxEqual(t, 1.0, sum, 1e-9)

	require.Equal(t, 2, len(h.processor.removed), "Both images removed after completion")
}

func TestTrigger_SchedulesCollectionOffCaller(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))

	// The trigger call returns with the window open and no collection
	// work done; the caller never waits out the submission window.
	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentCollecting, tournament.Status)
	subs, err := h.store.Submissions(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, len(subs))

	jobs, err := h.store.PendingJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, len(jobs))
	assert.Equal(t, types.JobCollect, jobs[0].Kind)
	assert.Equal(t, types.JobBeginTesting, jobs[1].Kind)

	// Collection happens on the queue and the tournament runs through.
	h.pump(t)
	tournament, err = h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentCompleted, tournament.Status)
	assert.Equal(t, 1, tournament.TotalSubmissions)
}

func TestTournament_NetworkFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Networks = []string{"torus", "bittensor"}
	cfg.EpochCount = 3
	h := setup(t, cfg, []string{"alice"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))
	h.pump(t)

	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	runs, err := h.store.EvaluationRuns(ctx, tournament.ID)
	require.NoError(t, err)
	require.Equal(t, 3, len(runs))
	networks := make(map[uint64]string)
	for _, r := range runs {
		networks[r.EpochNumber] = r.Network
	}
	assert.Equal(t, "torus", networks[0])
	assert.Equal(t, "bittensor", networks[1])
	assert.Equal(t, "bittensor", networks[2], "Last network label repeats past the list")
}

func TestTournament_TimeoutDisqualifies(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice", "bob"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
		"subnet2-eval-bob:aaaaaaaaaaaa":   {timedOut: true},
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))
	h.pump(t)

	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentCompleted, tournament.Status)

	results, err := h.store.TournamentResults(ctx, tournament.ID)
	require.NoError(t, err)
	for _, r := range results {
		if r.ParticipantID != "bob" {
			continue
		}
		assert.Equal(t, true, r.Disqualified)
		assert.Equal(t, 0.0, r.FinalScore)
		assert.StringContains(t, "timeout", r.DisqualifyReason)
	}

	require.Equal(t, 1, len(h.setter.vectors))
	for _, w := range h.setter.vectors[0] {
		if w.ParticipantID == "bob" {
			assert.Equal(t, 0.0, w.Weight)
		} else {
			assert.ApproxEqual(t, 1.0, w.Weight, 1e-9)
		}
	}
}

func TestTournament_LaunchFailureMarksRunFailed(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": {launchErr: true},
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))
	h.pump(t)

	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	runs, err := h.store.EvaluationRuns(ctx, tournament.ID)
	require.NoError(t, err)
	require.Equal(t, 2, len(runs))
	for _, r := range runs {
		assert.Equal(t, types.RunFailed, r.Status)
		assert.Equal(t, types.ErrCodeSandboxLaunchFailed, r.ErrorCode)
	}
}

func TestTournament_InvalidOutputsZeroRun(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice", "bob"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
		// bob reports a pattern over an address missing from features.
		"subnet2-eval-bob:aaaaaaaaaaaa": {
			features: featuresCSV("a"),
			patterns: patternsCSV("p-1,cycle,a|zzz,"),
		},
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))
	h.pump(t)

	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	runs, err := h.store.EvaluationRuns(ctx, tournament.ID)
	require.NoError(t, err)
	badRuns := 0
	for _, r := range runs {
		if r.ErrorCode != types.ErrCodeOutputSchemaInvalid {
			continue
		}
		badRuns++
		assert.Equal(t, types.RunCompleted, r.Status)
		require.NotNil(t, r.FeaturesValid)
		assert.Equal(t, false, *r.FeaturesValid)
		assert.Equal(t, 0.0, r.FinalScore)
	}
	assert.Equal(t, 2, badRuns)

	results, err := h.store.TournamentResults(ctx, tournament.ID)
	require.NoError(t, err)
	for _, r := range results {
		if r.ParticipantID == "bob" {
			assert.Equal(t, true, r.Disqualified)
		}
	}
}

func TestRunEpoch_IdempotentRedelivery(t *testing.T) {
	cfg := testConfig(t)
	cfg.EpochCount = 1
	h := setup(t, cfg, []string{"alice"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))
	h.pump(t)
	assert.Equal(t, 1, h.sandbox.calls["subnet2-eval-alice:aaaaaaaaaaaa"])

	// A redelivered epoch job after completion must not re-execute the
	// payload or disturb the finished tournament.
	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, h.store.Enqueue(ctx, &types.Job{
		ID:           deterministicID("dup-job"),
		Kind:         types.JobRunEpoch,
		TournamentID: tournament.ID,
		Epoch:        0,
		NotBefore:    h.clock.Now(),
	}))
	h.pump(t)

	assert.Equal(t, 1, h.sandbox.calls["subnet2-eval-alice:aaaaaaaaaaaa"])
	tournament, err = h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentCompleted, tournament.Status)
	assert.Equal(t, 1, tournament.TotalRuns)
}

func TestTournament_WeightEmissionFailureFailsTournament(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
	})
	h.setter.err = errors.New("chain unreachable")
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))
	h.pump(t)

	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentFailed, tournament.Status)
	if tournament.CompletedAt != nil {
		t.Fatal("failed tournament must not carry a completion timestamp")
	}
	assert.Equal(t, 0, len(h.setter.vectors))

	// Ranking is still persisted for the operator to inspect.
	results, err := h.store.TournamentResults(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, len(results))
}

func TestRunEpoch_DeadlineOverrunFailsTournament(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
	})
	ctx := context.Background()

	require.NoError(t, h.service.Trigger(ctx, 0))

	// Sleep through the entire tournament schedule before any epoch ran.
	h.clock.t = h.clock.t.Add(24 * time.Hour)
	for i := 0; i < 10; i++ {
		h.service.processNextJob()
	}

	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentFailed, tournament.Status)
	assert.Equal(t, 0, len(h.sandbox.calls))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.EpochCount = 0
	_, err := New(context.Background(), &Config{Tournament: cfg})
	require.ErrorContains(t, string(types.ErrCodeConfigurationInvalid), err)
}

func TestJobRetry_ExhaustionFailsTournament(t *testing.T) {
	h := setup(t, testConfig(t), []string{"alice"}, map[string]script{
		"subnet2-eval-alice:aaaaaaaaaaaa": goodScript(),
	})
	ctx := context.Background()
	require.NoError(t, h.service.Trigger(ctx, 0))

	tournament, err := h.store.TournamentByEpoch(ctx, 0)
	require.NoError(t, err)

	// Poison the queue with a job for a tournament record that cannot
	// load; every attempt errors until the budget is spent.
	bogus := deterministicID("missing")
	require.NoError(t, h.store.Enqueue(ctx, &types.Job{
		ID:           deterministicID("poison"),
		Kind:         types.JobRunEpoch,
		TournamentID: bogus,
		Epoch:        0,
		NotBefore:    h.clock.Now(),
	}))
	h.pump(t)

	// The poison job's failure hits its own (missing) tournament, not
	// the live one, which still runs to completion.
	tournament, err = h.store.Tournament(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TournamentCompleted, tournament.Status)
}
