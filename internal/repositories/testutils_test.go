package repositories_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/callagent/db"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/repositories"
	"github.com/myrjola/callagent/internal/testhelpers"
)

type testRepositories struct {
	dbs            *db.Database
	events         *repositories.EventLogRepository
	calls          *repositories.CallRepository
	investigations *repositories.InvestigationRepository
}

func newTestRepositories(t *testing.T) testRepositories {
	t.Helper()
	logger := testhelpers.NewLogger(os.Stdout)
	dbs, err := db.NewDatabase(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dbs.Close()
	})

	events := repositories.NewEventLogRepository(dbs, logger)
	calls := repositories.NewCallRepository(dbs, events, logger)
	investigations := repositories.NewInvestigationRepository(dbs, events, logger)
	return testRepositories{
		dbs:            dbs,
		events:         events,
		calls:          calls,
		investigations: investigations,
	}
}

func testContacts() []models.ContactInput {
	return []models.ContactInput{
		{Name: "Asha", Phone: "+919000000001", Language: "english"},
		{Name: "Binod", Phone: "+919000000002", Language: "hindi"},
	}
}
