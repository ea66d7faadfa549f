package service

import (
	"context"
	"errors"
	"testing"

	"transferdesk/internal/lifecycle"
	"transferdesk/internal/models"
	"transferdesk/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appErrCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T: %v", err, err)
	}
	return appErr.Code
}

func TestCreateRequest(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID:        f.issuer.ID,
		RequestType:     models.RequestTypeDeposit,
		ShareholderName: "Jane Holder",
		AccountNumber:   "ACC-1001",
		Cusip:           "037833100",
		Quantity:        decimal.NewFromInt(250),
	})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, f.broker.ID, req.BrokerID)
	assert.Equal(t, "TR-000001", req.RequestNumber)
	assert.NotEmpty(t, req.PublicID)
	assert.Nil(t, req.ActionToken)

	// Submission is journaled.
	var comms []models.Communication
	require.NoError(t, f.db.Where("request_id = ?", req.ID).Find(&comms).Error)
	require.Len(t, comms, 1)
	assert.Contains(t, comms[0].Message, req.RequestNumber)
}

func TestCreateRequest_Validation(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateRequestInput
	}{
		{"missing issuer", CreateRequestInput{
			RequestType: models.RequestTypeDeposit, ShareholderName: "J", AccountNumber: "A",
			Cusip: "037833100", Quantity: decimal.NewFromInt(1),
		}},
		{"broker split type not allowed here", CreateRequestInput{
			IssuerID: f.issuer.ID, RequestType: models.RequestTypeBrokerSplit,
			ShareholderName: "J", AccountNumber: "A", Cusip: "037833100", Quantity: decimal.NewFromInt(1),
		}},
		{"missing shareholder", CreateRequestInput{
			IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
			AccountNumber: "A", Cusip: "037833100", Quantity: decimal.NewFromInt(1),
		}},
		{"bad cusip", CreateRequestInput{
			IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
			ShareholderName: "J", AccountNumber: "A", Cusip: "bad!", Quantity: decimal.NewFromInt(1),
		}},
		{"zero quantity", CreateRequestInput{
			IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
			ShareholderName: "J", AccountNumber: "A", Cusip: "037833100", Quantity: decimal.Zero,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, f.brokerActor(), tc.in)
			require.Error(t, err)
			assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
		})
	}
}

func TestCreateRequest_BrokerOwnsSubmission(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	// A broker cannot create a request on behalf of another broker.
	other := models.User{Username: "broker2", Email: "broker2@example.com", Role: models.RoleBroker}
	require.NoError(t, f.db.Create(&other).Error)

	req, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID:        f.issuer.ID,
		BrokerID:        other.ID,
		RequestType:     models.RequestTypeWithdrawal,
		ShareholderName: "Jane Holder",
		AccountNumber:   "ACC-1001",
		Cusip:           "037833100",
		Quantity:        decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, f.broker.ID, req.BrokerID)

	// A reviewer may attribute the request to a broker.
	req, err = f.svc.Create(ctx, f.reviewerActor(), CreateRequestInput{
		IssuerID:        f.issuer.ID,
		BrokerID:        other.ID,
		RequestType:     models.RequestTypeWithdrawal,
		ShareholderName: "Jane Holder",
		AccountNumber:   "ACC-1001",
		Cusip:           "037833100",
		Quantity:        decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, other.ID, req.BrokerID)
}

func TestCreateRequest_IssuerGate(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	in := CreateRequestInput{
		IssuerID:        f.issuer.ID,
		RequestType:     models.RequestTypeDeposit,
		ShareholderName: "Jane Holder",
		AccountNumber:   "ACC-1001",
		Cusip:           "037833100",
		Quantity:        decimal.NewFromInt(5),
	}

	f.setIssuerStatus(t, models.IssuerStatusPending)
	_, err := f.svc.Create(ctx, f.brokerActor(), in)
	require.Error(t, err)
	assert.Equal(t, "ISSUER_ACCESS_BLOCKED", appErrCode(t, err))

	f.setIssuerStatus(t, models.IssuerStatusSuspended)
	_, err = f.svc.Create(ctx, f.brokerActor(), in)
	require.Error(t, err)
	assert.Equal(t, "ISSUER_ACCESS_BLOCKED", appErrCode(t, err))

	f.setIssuerStatus(t, models.IssuerStatusLive)
	_, err = f.svc.Create(ctx, f.brokerActor(), in)
	require.NoError(t, err)
}

func TestCreateBrokerSplit(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	req, tokenValue, err := f.svc.CreateBrokerSplit(ctx, f.brokerActor(), BrokerSplitInput{
		IssuerID:             f.issuer.ID,
		DTCParticipantNumber: "1234",
		DWACSubmitted:        true,
		UnitCusip:            "12345678A",
		UnitQuantity:         decimal.NewFromInt(100),
		ClassACusip:          "12345678B",
		ClassAQuantity:       decimal.NewFromInt(50),
		WarrantCusip:         "12345678C",
		WarrantQuantity:      decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.NotEmpty(t, tokenValue)

	assert.Equal(t, models.RequestTypeBrokerSplit, req.RequestType)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, "1234", req.DTCParticipantNumber)
	require.NotNil(t, req.ActionToken)
	assert.Equal(t, tokenValue, *req.ActionToken)
	require.NotNil(t, req.ActionTokenExpiresAt)
	assert.Nil(t, req.ActionTokenUsedAt)

	// The pending audit row exists from the start of the token round.
	var actions []models.BrokerRequestAction
	require.NoError(t, f.db.Where("request_id = ?", req.ID).Find(&actions).Error)
	require.Len(t, actions, 1)
	assert.Equal(t, models.BrokerActionPending, actions[0].Action)
	assert.Nil(t, actions[0].UsedAt)

	// The journal entry records all three quantities.
	var comms []models.Communication
	require.NoError(t, f.db.Where("request_id = ?", req.ID).Find(&comms).Error)
	require.Len(t, comms, 1)
	assert.Contains(t, comms[0].Message, "100 units of 12345678A")
	assert.Contains(t, comms[0].Message, "50 class A shares of 12345678B")
	assert.Contains(t, comms[0].Message, "50 warrants of 12345678C")
}

func TestCreateBrokerSplit_Validation(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	base := func() BrokerSplitInput {
		return BrokerSplitInput{
			IssuerID:             f.issuer.ID,
			DTCParticipantNumber: "1234",
			UnitCusip:            "12345678A",
			UnitQuantity:         decimal.NewFromInt(100),
			ClassACusip:          "12345678B",
			ClassAQuantity:       decimal.NewFromInt(50),
			WarrantCusip:         "12345678C",
			WarrantQuantity:      decimal.NewFromInt(50),
		}
	}

	in := base()
	in.DTCParticipantNumber = "12345"
	_, _, err := f.svc.CreateBrokerSplit(ctx, f.brokerActor(), in)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	in = base()
	in.ClassACusip = ""
	_, _, err = f.svc.CreateBrokerSplit(ctx, f.brokerActor(), in)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	in = base()
	in.WarrantQuantity = decimal.NewFromInt(-1)
	_, _, err = f.svc.CreateBrokerSplit(ctx, f.brokerActor(), in)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestGetAndListScoping(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	other := models.User{Username: "broker2", Email: "broker2@example.com", Role: models.RoleBroker}
	require.NoError(t, f.db.Create(&other).Error)
	otherActor := models.Actor{ID: other.ID, Role: other.Role}

	mine, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
		ShareholderName: "Jane", AccountNumber: "A1", Cusip: "037833100",
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	theirs, err := f.svc.Create(ctx, otherActor, CreateRequestInput{
		IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
		ShareholderName: "John", AccountNumber: "A2", Cusip: "037833100",
		Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, err)

	// Brokers read only their own requests.
	_, err = f.svc.Get(ctx, f.brokerActor(), theirs.ID)
	assert.Equal(t, "ACCESS_DENIED", appErrCode(t, err))

	got, err := f.svc.Get(ctx, f.brokerActor(), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	listed, err := f.svc.List(ctx, f.brokerActor(), repository.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.ID, listed[0].ID)

	// Reviewers see everything.
	listed, err = f.svc.List(ctx, f.reviewerActor(), repository.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestUpdate_BrokerRules(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
		ShareholderName: "Jane", AccountNumber: "A1", Cusip: "037833100",
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	// Broker may patch while Pending.
	name := "Jane Q. Holder"
	updated, err := f.svc.Update(ctx, f.brokerActor(), req.ID, UpdateRequestInput{
		ShareholderName: &name,
	})
	require.NoError(t, err)
	assert.Equal(t, name, updated.ShareholderName)

	// Brokers never assign.
	assignee := f.reviewer.ID
	_, err = f.svc.Update(ctx, f.brokerActor(), req.ID, UpdateRequestInput{
		AssignedToUserID: &assignee,
	})
	assert.Equal(t, "ACCESS_DENIED", appErrCode(t, err))

	// Once the request leaves Pending the broker is locked out.
	_, err = f.svc.Transition(ctx, f.reviewerActor(), req.ID, lifecycle.TransitionStartReview, "")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.brokerActor(), req.ID, UpdateRequestInput{
		ShareholderName: &name,
	})
	assert.Equal(t, "ACCESS_DENIED", appErrCode(t, err))

	// The reviewer may still patch.
	purpose := "estate transfer"
	updated, err = f.svc.Update(ctx, f.reviewerActor(), req.ID, UpdateRequestInput{
		RequestPurpose: &purpose,
	})
	require.NoError(t, err)
	assert.Equal(t, purpose, updated.RequestPurpose)
}

func TestUpdate_Assignment(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
		ShareholderName: "Jane", AccountNumber: "A1", Cusip: "037833100",
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	// Assignment target must hold a reviewer role.
	brokerID := f.broker.ID
	_, err = f.svc.Update(ctx, f.reviewerActor(), req.ID, UpdateRequestInput{
		AssignedToUserID: &brokerID,
	})
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	assignee := f.reviewer.ID
	updated, err := f.svc.Update(ctx, f.reviewerActor(), req.ID, UpdateRequestInput{
		AssignedToUserID: &assignee,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedToUserID)
	assert.Equal(t, assignee, *updated.AssignedToUserID)
	require.NotNil(t, updated.AssignedAt)
	firstAssigned := *updated.AssignedAt

	// Reassignment keeps the original assigned_at.
	second := models.User{Username: "reviewer2", Email: "reviewer2@example.com", Role: models.RoleAdmin}
	require.NoError(t, f.db.Create(&second).Error)
	updated, err = f.svc.Update(ctx, f.reviewerActor(), req.ID, UpdateRequestInput{
		AssignedToUserID: &second.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedAt)
	assert.True(t, updated.AssignedAt.Equal(firstAssigned))

	// The assignment left an internal journal entry.
	var comms []models.Communication
	require.NoError(t, f.db.Where("request_id = ? AND is_internal = ?", req.ID, true).Find(&comms).Error)
	assert.NotEmpty(t, comms)
}

func TestUpdate_FinancialFieldsHitIssuerGate(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
		ShareholderName: "Jane", AccountNumber: "A1", Cusip: "037833100",
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	f.setIssuerStatus(t, models.IssuerStatusPending)

	// Non-financial patches still pass on a pending issuer.
	purpose := "custody move"
	_, err = f.svc.Update(ctx, f.reviewerActor(), req.ID, UpdateRequestInput{
		RequestPurpose: &purpose,
	})
	require.NoError(t, err)

	// Quantity is transaction-affecting and gets blocked.
	qty := decimal.NewFromInt(99)
	_, err = f.svc.Update(ctx, f.reviewerActor(), req.ID, UpdateRequestInput{
		Quantity: &qty,
	})
	assert.Equal(t, "ISSUER_ACCESS_BLOCKED", appErrCode(t, err))
}

func TestCommunications(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID: f.issuer.ID, RequestType: models.RequestTypeDeposit,
		ShareholderName: "Jane", AccountNumber: "A1", Cusip: "037833100",
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	// A broker note is forced public even when flagged internal.
	comm, err := f.svc.AppendCommunication(ctx, f.brokerActor(), req.ID, "medallion guarantee attached", true)
	require.NoError(t, err)
	assert.False(t, comm.IsInternal)

	_, err = f.svc.AppendCommunication(ctx, f.reviewerActor(), req.ID, "awaiting issuer counsel sign-off", true)
	require.NoError(t, err)

	// Internal entries are visible to reviewers only.
	brokerView, err := f.svc.ListCommunications(ctx, f.brokerActor(), req.ID)
	require.NoError(t, err)
	reviewerView, err := f.svc.ListCommunications(ctx, f.reviewerActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, len(brokerView)+1, len(reviewerView))
	for _, c := range brokerView {
		assert.False(t, c.IsInternal)
	}

	_, err = f.svc.AppendCommunication(ctx, f.brokerActor(), req.ID, "", false)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestListActions_ReviewerOnly(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()

	req, tokenValue, err := f.svc.CreateBrokerSplit(ctx, f.brokerActor(), BrokerSplitInput{
		IssuerID:             f.issuer.ID,
		DTCParticipantNumber: "1234",
		UnitCusip:            "12345678A",
		UnitQuantity:         decimal.NewFromInt(100),
		ClassACusip:          "12345678B",
		ClassAQuantity:       decimal.NewFromInt(50),
		WarrantCusip:         "12345678C",
		WarrantQuantity:      decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.NotEmpty(t, tokenValue)

	_, err = f.svc.ListActions(ctx, f.brokerActor(), req.ID)
	assert.Equal(t, "ACCESS_DENIED", appErrCode(t, err))

	actions, err := f.svc.ListActions(ctx, f.reviewerActor(), req.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

// failingCommRepo fails every journal write.
type failingCommRepo struct{}

func (failingCommRepo) Append(ctx context.Context, comm *models.Communication) error {
	return errors.New("insert communications: disk I/O error")
}

func (failingCommRepo) ListForRequest(ctx context.Context, requestID uint, includeInternal bool) ([]*models.Communication, error) {
	return nil, errors.New("select communications: disk I/O error")
}

func TestCreate_JournalWriteFailureSurfaces(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	ctx := context.Background()
	f.svc.comms = failingCommRepo{}

	// The submission journal entry is part of the creation contract; a failed
	// write surfaces instead of silently producing a request with no journal.
	_, err := f.svc.Create(ctx, f.brokerActor(), CreateRequestInput{
		IssuerID:        f.issuer.ID,
		RequestType:     models.RequestTypeDeposit,
		ShareholderName: "Jane Holder",
		AccountNumber:   "ACC-1001",
		Cusip:           "037833100",
		Quantity:        decimal.NewFromInt(25),
	})
	require.Error(t, err)
	assert.Equal(t, "INTERNAL_ERROR", appErrCode(t, err))

	_, _, err = f.svc.CreateBrokerSplit(ctx, f.brokerActor(), BrokerSplitInput{
		IssuerID:             f.issuer.ID,
		DTCParticipantNumber: "1234",
		UnitCusip:            "12345678A",
		UnitQuantity:         decimal.NewFromInt(100),
		ClassACusip:          "12345678B",
		ClassAQuantity:       decimal.NewFromInt(50),
		WarrantCusip:         "12345678C",
		WarrantQuantity:      decimal.NewFromInt(50),
	})
	require.Error(t, err)
	assert.Equal(t, "INTERNAL_ERROR", appErrCode(t, err))
}
