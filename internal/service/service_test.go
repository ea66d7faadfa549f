package service

import (
	"testing"
	"time"

	"transferdesk/internal/models"
	"transferdesk/internal/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testFixture wires a RequestService against an in-memory database with a
// broker, a reviewer, and a live issuer pre-seeded.
type testFixture struct {
	db       *gorm.DB
	svc      *RequestService
	broker   models.User
	reviewer models.User
	issuer   models.Issuer
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Issuer{},
		&models.TransferRequest{},
		&models.Communication{},
		&models.BrokerRequestAction{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	f := &testFixture{db: db}

	f.broker = models.User{Username: "broker1", Email: "broker1@example.com", Role: models.RoleBroker}
	f.reviewer = models.User{Username: "reviewer1", Email: "reviewer1@example.com", Role: models.RoleTransferTeam}
	if err := db.Create(&f.broker).Error; err != nil {
		t.Fatalf("create broker: %v", err)
	}
	if err := db.Create(&f.reviewer).Error; err != nil {
		t.Fatalf("create reviewer: %v", err)
	}

	f.issuer = models.Issuer{Name: "Acme Corp", Status: models.IssuerStatusLive}
	if err := db.Create(&f.issuer).Error; err != nil {
		t.Fatalf("create issuer: %v", err)
	}

	f.svc = NewRequestService(
		db,
		repository.NewRequestRepository(db),
		repository.NewCommunicationRepository(db),
		repository.NewUserRepository(db),
		repository.NewIssuerRepository(db),
		nil, nil,
		"http://localhost:8460",
	)
	return f
}

func (f *testFixture) brokerActor() models.Actor {
	return models.Actor{ID: f.broker.ID, Role: f.broker.Role}
}

func (f *testFixture) reviewerActor() models.Actor {
	return models.Actor{ID: f.reviewer.ID, Role: f.reviewer.Role}
}

func (f *testFixture) setNow(t time.Time) {
	f.svc.now = func() time.Time { return t }
}

func (f *testFixture) setIssuerStatus(t *testing.T, status models.IssuerStatus) {
	t.Helper()
	if err := f.db.Model(&models.Issuer{}).
		Where("id = ?", f.issuer.ID).
		Update("status", status).Error; err != nil {
		t.Fatalf("update issuer status: %v", err)
	}
}
