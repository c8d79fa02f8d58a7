package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/amlstream/internal/events"
	"github.com/Aidin1998/amlstream/internal/streaming/window"
	"github.com/Aidin1998/amlstream/pkg/models"
)

func (s *ProcessorSuite) TestProcessBatch() {
	var txns []models.Transaction
	// twelve evenly spaced deposits on one account, fed newest first
	for i := 11; i >= 0; i-- {
		txns = append(txns, txn(fmt.Sprintf("p-%02d", i), "acc-periodic", models.TransactionTypeDeposit, 500,
			epoch.Add(time.Duration(i)*time.Minute)))
	}
	txns = append(txns,
		txn("q-1", "acc-quiet", models.TransactionTypeDeposit, 40, epoch.Add(30*time.Second)),
		txn("q-0", "acc-quiet", models.TransactionTypeDeposit, 40, epoch),
	)

	out := s.proc.ProcessBatch(context.Background(), txns)

	s.Require().Len(out.Results, len(txns))
	for _, t := range txns {
		r, ok := out.Results[t.ID]
		s.Require().True(ok, t.ID)
		s.Equal(models.StatusProcessed, r.Status, r.Error)
	}

	s.Require().Contains(out.Patterns, "acc-periodic")
	s.NotNil(findPattern(out.Patterns["acc-periodic"], models.PatternPeriodicActivity))
	s.NotContains(out.Patterns, "acc-quiet")
	s.GreaterOrEqual(s.sink.count(events.BatchPatternDetected), 1)
	s.GreaterOrEqual(s.logs.FilterMessage("Batch pattern detected").Len(), 1)

	// chronological replay leaves the window sorted with the newest last
	buffer, err := window.New(s.store, window.DefaultConfig()).Get(context.Background(), "acc-periodic")
	s.Require().NoError(err)
	s.Require().Len(buffer, 12)
	s.Equal("p-00", buffer[0].ID)
	s.Equal("p-11", buffer[11].ID)
}

func (s *ProcessorSuite) TestProcessBatch_CancelledCallerStillCompletes() {
	s.proc = s.newProcessor(func(o *Options) {
		o.Store = ctxStore{Store: s.store}
		o.BatchWorkers = 1
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	txns := []models.Transaction{
		txn("x1", "acc-x", models.TransactionTypeDeposit, 10, epoch),
		txn("y1", "acc-y", models.TransactionTypeDeposit, 10, epoch),
		txn("x2", "acc-x", models.TransactionTypeDeposit, 10, epoch.Add(time.Second)),
	}
	out := s.proc.ProcessBatch(ctx, txns)

	s.Require().Len(out.Results, 3)
	for id, r := range out.Results {
		s.Equal(models.StatusProcessed, r.Status, id)
	}
}

func (s *ProcessorSuite) TestProcessBatch_Empty() {
	out := s.proc.ProcessBatch(context.Background(), nil)
	s.Empty(out.Results)
	s.Empty(out.Patterns)
}

func (s *ProcessorSuite) TestGroupByAccountIsStable() {
	txns := []models.Transaction{
		txn("b2", "b", models.TransactionTypeDeposit, 1, epoch.Add(time.Second)),
		txn("a1", "a", models.TransactionTypeDeposit, 1, epoch),
		txn("b1", "b", models.TransactionTypeDeposit, 1, epoch),
		txn("a2", "a", models.TransactionTypeDeposit, 1, epoch),
	}

	accounts, byAccount := groupByAccount(txns)

	s.Equal([]string{"a", "b"}, accounts)
	s.Equal([]string{"a1", "a2"}, ids(byAccount["a"]))
	s.Equal([]string{"b1", "b2"}, ids(byAccount["b"]))
	s.Equal("b2", txns[0].ID, "input slice must not be reordered")
}

func ids(txns []models.Transaction) []string {
	out := make([]string, len(txns))
	for i, t := range txns {
		out[i] = t.ID
	}
	return out
}
