package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/server/models"
	"github.com/tempcab/cabinet/internal/server/repositories/cabinets"
)

type cabinetFixture struct {
	svc     *CabinetService
	rm      *fakeRepoManager
	content *fakeContentStore
	mock    sqlmock.Sqlmock
	now     time.Time
}

func newCabinetFixture(t *testing.T, capacity int64) *cabinetFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rm := newFakeRepoManager()
	content := newFakeContentStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	svc := NewCabinetService(db, rm, content, capacity, testLogger())
	svc.now = func() time.Time { return now }
	return &cabinetFixture{svc: svc, rm: rm, content: content, mock: mock, now: now}
}

// withCodes makes the allocator draw the given codes in order, repeating
// the last one forever.
func (f *cabinetFixture) withCodes(codes ...int64) {
	i := 0
	f.svc.randCode = func() int64 {
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code
	}
}

func (f *cabinetFixture) addHold(code int64, token string) *models.Cabinet {
	c := &models.Cabinet{
		Code:      code,
		Status:    models.StatusHold,
		HoldToken: token,
		ExpireAt:  f.now.Add(holdDuration),
	}
	f.rm.cabinets.rows[code] = c
	return c
}

func (f *cabinetFixture) addOccupied(code int64, expireAt time.Time) *models.Cabinet {
	c := &models.Cabinet{
		Code:     code,
		Status:   models.StatusOccupied,
		Password: "pw",
		ExpireAt: expireAt,
	}
	f.rm.cabinets.rows[code] = c
	return c
}

func TestApplyCreatesHold(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.withCodes(111111)

	cabinet, err := f.svc.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(111111), cabinet.Code)
	assert.Equal(t, models.StatusHold, cabinet.Status)
	assert.NotEmpty(t, cabinet.HoldToken)
	assert.Equal(t, f.now.Add(holdDuration), cabinet.ExpireAt)
	assert.Empty(t, cabinet.Password)
}

func TestApplyDrawsDistinctCodes(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.withCodes(111111, 111111, 222222)

	first, err := f.svc.Apply(context.Background())
	require.NoError(t, err)

	second, err := f.svc.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(111111), first.Code)
	assert.Equal(t, int64(222222), second.Code)
	assert.NotEqual(t, first.HoldToken, second.HoldToken)
}

func TestApplyCapacityCountsOccupiedOnly(t *testing.T) {
	f := newCabinetFixture(t, 1)
	f.withCodes(222222, 333333)
	f.addOccupied(111111, f.now.Add(time.Hour))

	_, err := f.svc.Apply(context.Background())
	assert.ErrorIs(t, err, ErrCapacityExhausted)

	// Held cabinets never consume capacity.
	f2 := newCabinetFixture(t, 1)
	f2.withCodes(222222)
	f2.addHold(111111, "tok")

	cabinet, err := f2.svc.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(222222), cabinet.Code)
}

func TestApplyReclaimsExpiredFirst(t *testing.T) {
	f := newCabinetFixture(t, 1)
	f.withCodes(222222)
	f.addOccupied(111111, f.now.Add(-time.Minute))

	cabinet, err := f.svc.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(222222), cabinet.Code)
	_, ok := f.rm.cabinets.rows[111111]
	assert.False(t, ok, "expired cabinet should have been reclaimed")
}

func TestApplyRedrawsOnLostInsertRace(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.withCodes(111111, 222222)
	// The existence probe passes but another applicant wins the insert.
	f.rm.cabinets.saveErrs = []error{cabinets.ErrCodeTaken}

	cabinet, err := f.svc.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(222222), cabinet.Code)
}

func TestApplyGivesUpAfterBoundedDraws(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.withCodes(111111)
	f.addHold(111111, "tok")

	_, err := f.svc.Apply(context.Background())
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestValidateHoldHours(t *testing.T) {
	assert.NoError(t, ValidateHoldHours(0))
	assert.NoError(t, ValidateHoldHours(24))
	assert.ErrorIs(t, ValidateHoldHours(-1), ErrInvalidHoldHours)
	assert.ErrorIs(t, ValidateHoldHours(25), ErrInvalidHoldHours)
}

func textItem(name, content string) *models.CabinetItem {
	return &models.CabinetItem{Category: models.CategoryText, Name: name, Content: []byte(content)}
}

func fileItem(name string, content []byte) *models.CabinetItem {
	return &models.CabinetItem{Category: models.CategoryFile, Name: name, Content: content}
}

func TestSaveValidation(t *testing.T) {
	draft := func() *models.Cabinet {
		return &models.Cabinet{Code: 111111, Password: "pw", HoldToken: "tok", ExpireAt: time.Now().Add(time.Hour)}
	}

	tests := []struct {
		name    string
		draft   *models.Cabinet
		items   []*models.CabinetItem
		wantErr error
	}{
		{
			name: "missing password",
			draft: func() *models.Cabinet {
				d := draft()
				d.Password = ""
				return d
			}(),
			wantErr: ErrPasswordRequired,
		},
		{
			name: "missing expiry",
			draft: func() *models.Cabinet {
				d := draft()
				d.ExpireAt = time.Time{}
				return d
			}(),
			wantErr: ErrExpiryRequired,
		},
		{
			name: "missing hold token",
			draft: func() *models.Cabinet {
				d := draft()
				d.HoldToken = ""
				return d
			}(),
			wantErr: ErrHoldTokenRequired,
		},
		{
			name:    "empty item content",
			draft:   draft(),
			items:   []*models.CabinetItem{textItem("note", "")},
			wantErr: ErrEmptyItemContent,
		},
		{
			name:    "oversize text",
			draft:   draft(),
			items:   []*models.CabinetItem{textItem("note", string(bytes.Repeat([]byte("a"), MaxTextSize+1)))},
			wantErr: ErrTextTooLarge,
		},
		{
			name:    "oversize file",
			draft:   draft(),
			items:   []*models.CabinetItem{fileItem("blob", bytes.Repeat([]byte("a"), MaxFileSize+1))},
			wantErr: ErrFileTooLarge,
		},
		{
			name:  "oversize total",
			draft: draft(),
			items: []*models.CabinetItem{
				fileItem("b1", bytes.Repeat([]byte("a"), MaxFileSize)),
				fileItem("b2", bytes.Repeat([]byte("a"), MaxFileSize)),
				fileItem("b3", bytes.Repeat([]byte("a"), MaxFileSize)),
				fileItem("b4", bytes.Repeat([]byte("a"), MaxFileSize)),
				fileItem("b5", bytes.Repeat([]byte("a"), MaxFileSize)),
				fileItem("b6", bytes.Repeat([]byte("a"), MaxFileSize)),
			},
			wantErr: ErrPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCabinetFixture(t, 10)
			f.addHold(111111, "tok")

			_, err := f.svc.Save(context.Background(), tt.draft, tt.items)
			assert.ErrorIs(t, err, tt.wantErr)

			// Validation failures happen before any mutation.
			assert.Equal(t, models.StatusHold, f.rm.cabinets.rows[111111].Status)
			assert.Empty(t, f.rm.items.rows)
			assert.Zero(t, f.content.len())
		})
	}
}

func TestSaveWrongHoldToken(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addHold(111111, "right")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	draft := &models.Cabinet{Code: 111111, Password: "pw", HoldToken: "wrong", ExpireAt: f.now.Add(time.Hour)}
	_, err := f.svc.Save(context.Background(), draft, []*models.CabinetItem{textItem("note", "hi")})
	assert.ErrorIs(t, err, ErrNotCabinetHolder)

	assert.Equal(t, models.StatusHold, f.rm.cabinets.rows[111111].Status)
	assert.Empty(t, f.rm.items.rows)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSaveOnOccupiedCabinet(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addOccupied(111111, f.now.Add(time.Hour))
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	draft := &models.Cabinet{Code: 111111, Password: "pw", HoldToken: "tok", ExpireAt: f.now.Add(time.Hour)}
	_, err := f.svc.Save(context.Background(), draft, nil)
	assert.ErrorIs(t, err, ErrNotCabinetHolder)
}

func TestSaveUnknownCabinet(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	draft := &models.Cabinet{Code: 999999, Password: "pw", HoldToken: "tok", ExpireAt: f.now.Add(time.Hour)}
	_, err := f.svc.Save(context.Background(), draft, nil)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSaveOccupiesAndPersistsItemsInOrder(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addHold(111111, "tok")
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	draft := &models.Cabinet{
		Code:        111111,
		Name:        "taxes",
		Description: "2024 filings",
		Password:    "pw",
		HoldToken:   "tok",
		ExpireAt:    f.now.Add(3 * time.Hour),
	}
	items := []*models.CabinetItem{
		textItem("note", "see attachments"),
		fileItem("w2.pdf", bytes.Repeat([]byte("x"), 1024)),
	}

	saved, err := f.svc.Save(context.Background(), draft, items)
	require.NoError(t, err)

	assert.Equal(t, models.StatusOccupied, saved.Status)
	assert.Empty(t, saved.HoldToken)
	assert.Equal(t, "taxes", saved.Name)
	assert.Equal(t, "pw", saved.Password)

	stored := f.rm.cabinets.rows[111111]
	assert.Equal(t, models.StatusOccupied, stored.Status)
	assert.Empty(t, stored.HoldToken)

	listed, err := f.svc.ListItems(context.Background(), 111111)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "note", listed[0].Name)
	assert.Equal(t, int32(1), listed[0].SortOrder)
	assert.Equal(t, int64(len("see attachments")), listed[0].Size)
	assert.Equal(t, "w2.pdf", listed[1].Name)
	assert.Equal(t, int32(2), listed[1].SortOrder)
	assert.Equal(t, int64(1024), listed[1].Size)

	content, err := f.content.Read(context.Background(), 111111, listed[1].ID)
	require.NoError(t, err)
	assert.Len(t, content, 1024)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnContentWriteFailure(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addHold(111111, "tok")
	f.content.writeErr = errBoom
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	draft := &models.Cabinet{Code: 111111, Password: "pw", HoldToken: "tok", ExpireAt: f.now.Add(time.Hour)}
	_, err := f.svc.Save(context.Background(), draft, []*models.CabinetItem{textItem("note", "hi")})
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteByCode(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addOccupied(111111, f.now.Add(time.Hour))
	require.NoError(t, f.content.Write(context.Background(), 111111, "item-1", []byte("x")))
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	require.NoError(t, f.svc.DeleteByCode(context.Background(), 111111))

	_, ok := f.rm.cabinets.rows[111111]
	assert.False(t, ok)
	assert.Zero(t, f.content.len())
}

func TestDeleteByCodeNotFound(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.svc.DeleteByCode(context.Background(), 111111)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUsage(t *testing.T) {
	f := newCabinetFixture(t, 100)
	f.addOccupied(111111, f.now.Add(time.Hour))
	f.addOccupied(222222, f.now.Add(time.Hour))
	f.addHold(333333, "tok")

	usage, err := f.svc.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CabinetUsage{Total: 100, Used: 2, Free: 98}, usage)
}

func TestGetItemWithContent(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addHold(111111, "tok")
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	draft := &models.Cabinet{Code: 111111, Password: "pw", HoldToken: "tok", ExpireAt: f.now.Add(time.Hour)}
	_, err := f.svc.Save(context.Background(), draft, []*models.CabinetItem{fileItem("blob", []byte("payload"))})
	require.NoError(t, err)

	listed, err := f.svc.ListItems(context.Background(), 111111)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Nil(t, listed[0].Content, "listing returns metadata only")

	meta, err := f.svc.GetItem(context.Background(), listed[0].ID, false)
	require.NoError(t, err)
	assert.Nil(t, meta.Content)

	full, err := f.svc.GetItem(context.Background(), listed[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), full.Content)
}

func TestDeleteItemByID(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addHold(111111, "tok")
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	draft := &models.Cabinet{Code: 111111, Password: "pw", HoldToken: "tok", ExpireAt: f.now.Add(time.Hour)}
	_, err := f.svc.Save(context.Background(), draft, []*models.CabinetItem{
		textItem("note", "hi"),
		fileItem("blob", []byte("payload")),
	})
	require.NoError(t, err)

	listed, err := f.svc.ListItems(context.Background(), 111111)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	fileID := listed[1].ID
	require.NoError(t, f.svc.DeleteItemByID(context.Background(), fileID))

	_, err = f.svc.GetItem(context.Background(), fileID, false)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.content.Read(context.Background(), 111111, fileID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.ErrorIs(t, f.svc.DeleteItemByID(context.Background(), fileID), common.ErrorNotFound)
}

func TestDeleteItemToleratesMissingContent(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addHold(111111, "tok")
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	draft := &models.Cabinet{Code: 111111, Password: "pw", HoldToken: "tok", ExpireAt: f.now.Add(time.Hour)}
	_, err := f.svc.Save(context.Background(), draft, []*models.CabinetItem{fileItem("blob", []byte("x"))})
	require.NoError(t, err)

	listed, err := f.svc.ListItems(context.Background(), 111111)
	require.NoError(t, err)
	require.NoError(t, f.content.Delete(context.Background(), 111111, listed[0].ID))

	assert.NoError(t, f.svc.DeleteItemByID(context.Background(), listed[0].ID))
}

func TestDeleteExpiredCabinets(t *testing.T) {
	f := newCabinetFixture(t, 10)
	f.addOccupied(111111, f.now.Add(-time.Minute))
	f.addHold(222222, "tok")
	f.rm.cabinets.rows[222222].ExpireAt = f.now.Add(-time.Second)
	f.addOccupied(333333, f.now.Add(time.Hour))

	count, err := f.svc.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// A second sweep finds nothing.
	count, err = f.svc.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

// Exercises the hold/occupy lifecycle end to end: holds do not consume
// capacity, occupying does, and a full pool still accepts new holds only
// until occupy time.
func TestHoldOccupyLifecycle(t *testing.T) {
	f := newCabinetFixture(t, 2)
	f.withCodes(111111, 222222, 333333)
	ctx := context.Background()

	first, err := f.svc.Apply(ctx)
	require.NoError(t, err)
	second, err := f.svc.Apply(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)

	usage, err := f.svc.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CabinetUsage{Total: 2, Used: 0, Free: 2}, usage)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	draft := &models.Cabinet{Code: first.Code, Password: "pw", HoldToken: first.HoldToken, ExpireAt: f.now.Add(time.Hour)}
	_, err = f.svc.Save(ctx, draft, []*models.CabinetItem{textItem("note", "hi")})
	require.NoError(t, err)

	usage, err = f.svc.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CabinetUsage{Total: 2, Used: 1, Free: 1}, usage)

	// One slot left, one cabinet still held: a third applicant may hold.
	third, err := f.svc.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(333333), third.Code)
}
