package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/pkg/arenadto"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb)
}

// fakeRecorder counts settlement calls to check the exactly-once guarantee.
type fakeRecorder struct {
	mu          sync.Mutex
	settlements int
	moves       int
	saves       int
}

func (f *fakeRecorder) SaveMatch(context.Context, *Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeRecorder) AppendMove(context.Context, *Match, int, string, rules.Move) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves++
	return nil
}

func (f *fakeRecorder) SettleRatings(_ context.Context, _, _ string, whiteScore float64) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements++
	switch whiteScore {
	case 1:
		return 16, -16, nil
	case 0:
		return -16, 16, nil
	default:
		return 0, 0, nil
	}
}

func (f *fakeRecorder) settleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settlements
}

func mustCommit(t *testing.T, mgr *Manager, id, playerID, from, to string) *Match {
	t.Helper()
	m, _, err := mgr.Commit(context.Background(), id, playerID, arenadto.MoveRequest{
		PlayerID: playerID, From: from, To: to,
	})
	if err != nil {
		t.Fatalf("Commit %s %s%s: %v", playerID, from, to, err)
	}
	return m
}

func TestCreateAndGet(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	m, err := mgr.Create(ctx, "w1", "b1", 600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Status != StatusPending || m.Turn != rules.SideWhite {
		t.Fatalf("unexpected new match: status=%s turn=%s", m.Status, m.Turn)
	}
	if m.FEN != rules.StartFEN {
		t.Fatalf("unexpected FEN: %s", m.FEN)
	}
	if m.WhiteRemainingMs != 600_000 || m.BlackRemainingMs != 600_000 {
		t.Fatalf("clocks not full: %d/%d", m.WhiteRemainingMs, m.BlackRemainingMs)
	}
	if !m.AttributedAt.IsZero() {
		t.Fatalf("clock should not run before the first commit")
	}

	got, err := mgr.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != m.ID || got.WhiteID != "w1" || got.BlackID != "b1" {
		t.Fatalf("Get mismatch: %+v", got)
	}

	if _, err := mgr.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitFlow(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	m, _ := mgr.Create(ctx, "w1", "b1", 600)

	m1 := mustCommit(t, mgr, m.ID, "w1", "e2", "e4")
	if m1.Status != StatusActive {
		t.Fatalf("first commit should activate, got %s", m1.Status)
	}
	if m1.Turn != rules.SideBlack || len(m1.MovesSAN) != 1 || m1.MovesSAN[0] != "e4" {
		t.Fatalf("unexpected state after e4: turn=%s san=%v", m1.Turn, m1.MovesSAN)
	}
	if m1.AttributedAt.IsZero() {
		t.Fatalf("clock should run after the first commit")
	}
	// Activation does not charge the mover.
	if m1.WhiteRemainingMs != 600_000 {
		t.Fatalf("white charged on activation: %d", m1.WhiteRemainingMs)
	}

	m2 := mustCommit(t, mgr, m.ID, "b1", "e7", "e5")
	if m2.Turn != rules.SideWhite || len(m2.MovesUCI) != 2 {
		t.Fatalf("unexpected state after e5: %+v", m2)
	}
	if m2.BlackRemainingMs > 600_000 {
		t.Fatalf("black clock grew: %d", m2.BlackRemainingMs)
	}

	// Out of turn.
	if _, _, err := mgr.Commit(ctx, m.ID, "b1", arenadto.MoveRequest{PlayerID: "b1", From: "d7", To: "d5"}); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	// Spectator.
	if _, _, err := mgr.Commit(ctx, m.ID, "stranger", arenadto.MoveRequest{PlayerID: "stranger", From: "d2", To: "d4"}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	// Illegal move.
	if _, _, err := mgr.Commit(ctx, m.ID, "w1", arenadto.MoveRequest{PlayerID: "w1", From: "e4", To: "e6"}); !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
}

func TestCommitStalePredecessor(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	m, _ := mgr.Create(ctx, "w1", "b1", 600)

	// Two submissions built against the same starting position: the first
	// wins, the second is stale.
	req1 := arenadto.MoveRequest{PlayerID: "w1", From: "e2", To: "e4", PrevFEN: rules.StartFEN}
	if _, _, err := mgr.Commit(ctx, m.ID, "w1", req1); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	req2 := arenadto.MoveRequest{PlayerID: "b1", From: "e7", To: "e5", PrevFEN: rules.StartFEN}
	if _, _, err := mgr.Commit(ctx, m.ID, "b1", req2); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	// The same move against the live position applies.
	cur, _ := mgr.Get(ctx, m.ID)
	req3 := arenadto.MoveRequest{PlayerID: "b1", From: "e7", To: "e5", PrevFEN: cur.FEN}
	if _, _, err := mgr.Commit(ctx, m.ID, "b1", req3); err != nil {
		t.Fatalf("retry against live position: %v", err)
	}
}

func TestConcurrentCommitsOneWinner(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	// Two in-flight submissions built against the same predecessor: whatever
	// the interleaving, exactly one applies and the loser sees ErrStaleState.
	for i := 0; i < 20; i++ {
		m, err := mgr.Create(ctx, "w1", "b1", 600)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		reqs := []arenadto.MoveRequest{
			{PlayerID: "w1", From: "e2", To: "e4", PrevFEN: rules.StartFEN},
			{PlayerID: "w1", From: "d2", To: "d4", PrevFEN: rules.StartFEN},
		}
		errs := make([]error, len(reqs))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for j, req := range reqs {
			wg.Add(1)
			go func(j int, req arenadto.MoveRequest) {
				defer wg.Done()
				<-start
				_, _, errs[j] = mgr.Commit(ctx, m.ID, req.PlayerID, req)
			}(j, req)
		}
		close(start)
		wg.Wait()

		var wins, stale int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrStaleState):
				stale++
			default:
				t.Fatalf("iteration %d: unexpected loser error: %v", i, err)
			}
		}
		if wins != 1 || stale != 1 {
			t.Fatalf("iteration %d: wins=%d stale=%d (%v)", i, wins, stale, errs)
		}

		got, err := mgr.Get(ctx, m.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.MovesUCI) != 1 || got.Turn != rules.SideBlack {
			t.Fatalf("iteration %d: torn state: moves=%v turn=%s", i, got.MovesUCI, got.Turn)
		}
	}
}

func TestTimeoutCommitRaceSettlesOnce(t *testing.T) {
	mgr := newTestManager(t)
	rec := &fakeRecorder{}
	mgr.AttachRecorder(rec)
	ctx := context.Background()

	// The watcher's Timeout and the mover's flag-fall Commit both try to end
	// the match; only the terminal-transition winner may settle ratings.
	for i := 0; i < 20; i++ {
		m, err := mgr.Create(ctx, "w1", "b1", 0)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		mustCommit(t, mgr, m.ID, "w1", "e2", "e4")
		before := rec.settleCount()

		start := make(chan struct{})
		var wg sync.WaitGroup
		var timeoutErr, commitErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, timeoutErr = mgr.Timeout(ctx, m.ID, rules.SideBlack)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _, commitErr = mgr.Commit(ctx, m.ID, "b1", arenadto.MoveRequest{PlayerID: "b1", From: "e7", To: "e5"})
		}()
		close(start)
		wg.Wait()

		for _, err := range []error{timeoutErr, commitErr} {
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrAlreadyTerminal) && !errors.Is(err, ErrStaleState) && !errors.Is(err, ErrClockNotExpired) {
				t.Fatalf("iteration %d: unexpected loser error: %v", i, err)
			}
		}

		final, err := mgr.Get(ctx, m.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if final.Status != StatusCompleted || final.Result != ResultWinWhite || final.Method != "timeout" {
			t.Fatalf("iteration %d: unexpected outcome: %+v", i, final)
		}
		if got := rec.settleCount() - before; got != 1 {
			t.Fatalf("iteration %d: settlement ran %d times", i, got)
		}
	}
}

func TestCheckmateSettlesExactlyOnce(t *testing.T) {
	mgr := newTestManager(t)
	rec := &fakeRecorder{}
	mgr.AttachRecorder(rec)
	ctx := context.Background()
	m, _ := mgr.Create(ctx, "w1", "b1", 600)

	mustCommit(t, mgr, m.ID, "w1", "f2", "f3")
	mustCommit(t, mgr, m.ID, "b1", "e7", "e5")
	mustCommit(t, mgr, m.ID, "w1", "g2", "g4")
	final := mustCommit(t, mgr, m.ID, "b1", "d8", "h4")

	if final.Status != StatusCompleted || final.Result != ResultWinBlack {
		t.Fatalf("expected black win, got status=%s result=%s", final.Status, final.Result)
	}
	if final.Method != "checkmate" || final.Winner != "b1" {
		t.Fatalf("unexpected termination: method=%s winner=%s", final.Method, final.Winner)
	}
	if final.WhiteDelta != -16 || final.BlackDelta != 16 {
		t.Fatalf("deltas not recorded: %d/%d", final.WhiteDelta, final.BlackDelta)
	}
	if rec.settleCount() != 1 {
		t.Fatalf("settlement ran %d times", rec.settleCount())
	}

	// Further mutation attempts bounce off the terminal state without a
	// second settlement.
	if _, _, err := mgr.Commit(ctx, m.ID, "w1", arenadto.MoveRequest{PlayerID: "w1", From: "a2", To: "a3"}); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if _, err := mgr.Resign(ctx, m.ID, "w1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal on resign, got %v", err)
	}
	if rec.settleCount() != 1 {
		t.Fatalf("settlement reran: %d", rec.settleCount())
	}

	// The stored deltas survive a reload.
	got, _ := mgr.Get(ctx, m.ID)
	if got.WhiteDelta != -16 || got.BlackDelta != 16 {
		t.Fatalf("stored deltas lost: %d/%d", got.WhiteDelta, got.BlackDelta)
	}
}

func TestResign(t *testing.T) {
	mgr := newTestManager(t)
	rec := &fakeRecorder{}
	mgr.AttachRecorder(rec)
	ctx := context.Background()
	m, _ := mgr.Create(ctx, "w1", "b1", 600)
	mustCommit(t, mgr, m.ID, "w1", "e2", "e4")

	got, err := mgr.Resign(ctx, m.ID, "b1")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if got.Result != ResultWinWhite || got.Winner != "w1" || got.Method != "resignation" {
		t.Fatalf("unexpected resign result: %+v", got)
	}
	if got.EndedAt.IsZero() {
		t.Fatalf("EndedAt not set")
	}
	if rec.settleCount() != 1 {
		t.Fatalf("settlement ran %d times", rec.settleCount())
	}

	if _, err := mgr.Resign(ctx, m.ID, "stranger"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	// Zero time control: black's clock is empty the moment it starts.
	m, _ := mgr.Create(ctx, "w1", "b1", 0)
	mustCommit(t, mgr, m.ID, "w1", "e2", "e4")

	got, err := mgr.Timeout(ctx, m.ID, rules.SideBlack)
	if err != nil {
		t.Fatalf("Timeout: %v", err)
	}
	if got.Result != ResultWinWhite || got.Method != "timeout" {
		t.Fatalf("unexpected timeout result: %+v", got)
	}
	if got.BlackRemainingMs != 0 {
		t.Fatalf("expired clock not floored: %d", got.BlackRemainingMs)
	}
}

func TestTimeoutNotExpired(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	m, _ := mgr.Create(ctx, "w1", "b1", 600)
	mustCommit(t, mgr, m.ID, "w1", "e2", "e4")

	if _, err := mgr.Timeout(ctx, m.ID, rules.SideBlack); !errors.Is(err, ErrClockNotExpired) {
		t.Fatalf("expected ErrClockNotExpired, got %v", err)
	}
}

func TestCommitFlagFall(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	m, _ := mgr.Create(ctx, "w1", "b1", 0)
	mustCommit(t, mgr, m.ID, "w1", "e2", "e4")

	// Black's flag fell before this move arrived: the commit resolves as a
	// timeout loss, not a played move.
	got, _, err := mgr.Commit(ctx, m.ID, "b1", arenadto.MoveRequest{PlayerID: "b1", From: "e7", To: "e5"})
	if err != nil {
		t.Fatalf("Commit after flag fall: %v", err)
	}
	if got.Result != ResultWinWhite || got.Method != "timeout" {
		t.Fatalf("expected timeout loss, got %+v", got)
	}
	if len(got.MovesUCI) != 1 {
		t.Fatalf("expired move was applied: %v", got.MovesUCI)
	}
}

func TestSettleIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	rec := &fakeRecorder{}
	mgr.AttachRecorder(rec)
	ctx := context.Background()
	m, _ := mgr.Create(ctx, "w1", "b1", 600)
	mustCommit(t, mgr, m.ID, "w1", "e2", "e4")

	first, err := mgr.Settle(ctx, m.ID, ResultDraw, "", "agreement")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if first.Result != ResultDraw || first.Method != "agreement" {
		t.Fatalf("unexpected settle: %+v", first)
	}

	second, err := mgr.Settle(ctx, m.ID, ResultWinWhite, "w1", "timeout")
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if second.Result != ResultDraw {
		t.Fatalf("settled result overwritten: %s", second.Result)
	}
	if rec.settleCount() != 1 {
		t.Fatalf("settlement ran %d times", rec.settleCount())
	}
}

func TestAbandon(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	m, _ := mgr.Create(ctx, "w1", "b1", 600)
	got, err := mgr.Abandon(ctx, m.ID)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if got.Status != StatusAbandoned || got.Result != "" {
		t.Fatalf("unexpected abandon state: %+v", got)
	}

	// Started matches cannot be abandoned.
	m2, _ := mgr.Create(ctx, "w2", "b2", 600)
	mustCommit(t, mgr, m2.ID, "w2", "e2", "e4")
	if _, err := mgr.Abandon(ctx, m2.ID); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
}

func TestActiveByPlayer(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	m1, _ := mgr.Create(ctx, "w1", "b1", 600)
	if _, err := mgr.Resign(ctx, m1.ID, "b1"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	m2, _ := mgr.Create(ctx, "w1", "b2", 600)

	got, err := mgr.ActiveByPlayer(ctx, "w1")
	if err != nil {
		t.Fatalf("ActiveByPlayer: %v", err)
	}
	if got == nil || got.ID != m2.ID {
		t.Fatalf("expected live match %s, got %+v", m2.ID, got)
	}

	if got, _ := mgr.ActiveByPlayer(ctx, "nobody"); got != nil {
		t.Fatalf("expected nil for unknown player, got %+v", got)
	}
}

func TestRemainingMsFloorsAtZero(t *testing.T) {
	m := &Match{
		Status:           StatusActive,
		Turn:             rules.SideWhite,
		WhiteRemainingMs: 100,
		BlackRemainingMs: 500,
		AttributedAt:     time.Now().Add(-time.Second),
	}
	if got := m.RemainingMs(rules.SideWhite, time.Now()); got != 0 {
		t.Fatalf("running side should floor at 0, got %d", got)
	}
	// The idle side is not charged.
	if got := m.RemainingMs(rules.SideBlack, time.Now()); got != 500 {
		t.Fatalf("idle side charged: %d", got)
	}
}
