package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/jobrelay/internal/jobber"
	"github.com/mattjoyce/jobrelay/internal/log"
	"github.com/mattjoyce/jobrelay/internal/notify"
	"github.com/mattjoyce/jobrelay/internal/reconcile/mocks"
	"github.com/mattjoyce/jobrelay/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text")
	os.Exit(m.Run())
}

type captured struct {
	mu  sync.Mutex
	err error
	got []notify.Notification
}

func (c *captured) Enqueue(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, n)
	return nil
}

func (c *captured) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Kind, 0, len(c.got))
	for _, n := range c.got {
		out = append(out, n.Kind)
	}
	return out
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Bootstrap(ctx, db, storage.DialectSQLite))
	return storage.NewStore(db, storage.DialectSQLite)
}

func ptr[T any](v T) *T { return &v }

func fakeClient(f *gofakeit.Faker, id string) *jobber.ClientNode {
	return &jobber.ClientNode{
		ID:          id,
		FirstName:   ptr(f.FirstName()),
		LastName:    ptr(f.LastName()),
		CompanyName: ptr(f.Company()),
		Emails: []jobber.Email{
			{Address: f.Email(), Primary: false},
			{Address: "primary@example.com", Primary: true},
		},
		Phones: []jobber.Phone{{Number: f.Phone(), Primary: true}},
		BillingAddress: &jobber.Address{
			Street1:    ptr(f.Street()),
			City:       ptr(f.City()),
			Province:   ptr(f.State()),
			PostalCode: ptr(f.Zip()),
			Country:    ptr(f.Country()),
		},
		Tags: []jobber.Tag{{Name: "vip"}, {Name: "residential"}},
	}
}

func job(id, status string) *jobber.JobNode {
	return &jobber.JobNode{
		ID:        id,
		Title:     ptr("Fix sink"),
		JobStatus: ptr(status),
		Client:    &jobber.Ref{ID: "client_1"},
		Total:     &jobber.Money{Cents: ptr(int64(12050))},
	}
}

func TestClientCreateReplayIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	store := newStore(t)
	out := &captured{}
	r := New(fetcher, store, out)
	ctx := context.Background()

	client := fakeClient(gofakeit.New(42), "client_1")
	fetcher.EXPECT().GetClient(gomock.Any(), "client_1").Return(client, nil).Times(2)

	first, err := r.Reconcile(ctx, storage.EntityClient, "client_1")
	require.NoError(t, err)
	assert.True(t, first.Upsert.Created)

	second, err := r.Reconcile(ctx, storage.EntityClient, "client_1")
	require.NoError(t, err)
	assert.False(t, second.Upsert.Created)
	assert.Empty(t, second.Notifications)

	assert.Equal(t, []notify.Kind{notify.KindClientCreated}, out.kinds())
	assert.Equal(t, first.Upsert.Record.Fields, second.Upsert.Record.Fields)

	rec := second.Upsert.Record
	assert.Equal(t, *client.CompanyName, rec.Text("company_name"))
	assert.Equal(t, "primary@example.com", rec.Text("email"))
	assert.Equal(t, *client.BillingAddress.City, rec.Text("city"))
	assert.True(t, rec.Bool("is_active"))
	assert.JSONEq(t, `["vip","residential"]`, string(rec.JSON("tags")))

	n, err := store.Count(ctx, storage.EntityClient, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJobLifecycleNotifiesCompletionOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	out := &captured{}
	r := New(fetcher, newStore(t), out)
	ctx := context.Background()

	gomock.InOrder(
		fetcher.EXPECT().GetJob(gomock.Any(), "job_7").Return(job("job_7", "scheduled"), nil),
		fetcher.EXPECT().GetJob(gomock.Any(), "job_7").Return(job("job_7", "active"), nil),
		fetcher.EXPECT().GetJob(gomock.Any(), "job_7").Return(job("job_7", "completed"), nil),
		fetcher.EXPECT().GetJob(gomock.Any(), "job_7").Return(job("job_7", "completed"), nil),
	)

	for range 4 {
		_, err := r.Reconcile(ctx, storage.EntityJob, "job_7")
		require.NoError(t, err)
	}

	assert.Equal(t, []notify.Kind{notify.KindJobCreated, notify.KindJobCompleted}, out.kinds())
}

func TestJobUpdateFixSink(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	store := newStore(t)
	out := &captured{}
	r := New(fetcher, store, out)
	ctx := context.Background()

	_, err := store.Upsert(ctx, storage.EntityJob, "job_42", storage.Fields{"status": "active", "title": "Sink"})
	require.NoError(t, err)

	fetcher.EXPECT().GetJob(gomock.Any(), "job_42").Return(job("job_42", "completed"), nil)

	res, err := r.Reconcile(ctx, storage.EntityJob, "job_42")
	require.NoError(t, err)
	assert.False(t, res.Upsert.Created)

	rec := res.Upsert.Record
	assert.Equal(t, "Fix sink", rec.Text("title"))
	assert.Equal(t, "completed", *rec.Status)
	assert.Equal(t, "120.50", rec.Text("total_amount"))
	assert.Equal(t, "USD", rec.Text("currency"))
	assert.Equal(t, "client_1", rec.Text("client_external_id"))

	require.Len(t, out.got, 1)
	n := out.got[0]
	assert.Equal(t, notify.KindJobCompleted, n.Kind)
	assert.Equal(t, "job_42", n.ExternalID)
	assert.Equal(t, "JOB", n.EntityType)
	assert.Equal(t, "Fix sink", n.Text("title"))

	_, err = store.Get(ctx, storage.EntityClient, "client_1")
	assert.NoError(t, err, "parent client stub exists")
}

func TestCreationKindsIgnoreArrivalOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	out := &captured{}
	r := New(fetcher, newStore(t), out)
	ctx := context.Background()

	inv := &jobber.InvoiceNode{
		ID:            "inv_1",
		InvoiceStatus: ptr("draft"),
		Client:        &jobber.Ref{ID: "client_1"},
		Job:           &jobber.Ref{ID: "job_1"},
	}
	gomock.InOrder(
		fetcher.EXPECT().GetInvoice(gomock.Any(), "inv_1").Return(inv, nil),
		fetcher.EXPECT().GetJob(gomock.Any(), "job_1").Return(job("job_1", "completed"), nil),
		fetcher.EXPECT().GetClient(gomock.Any(), "client_1").Return(fakeClient(gofakeit.New(7), "client_1"), nil),
	)

	_, err := r.Reconcile(ctx, storage.EntityInvoice, "inv_1")
	require.NoError(t, err)
	jobRes, err := r.Reconcile(ctx, storage.EntityJob, "job_1")
	require.NoError(t, err)
	clientRes, err := r.Reconcile(ctx, storage.EntityClient, "client_1")
	require.NoError(t, err)

	assert.True(t, jobRes.Upsert.Created)
	assert.True(t, clientRes.Upsert.Created)
	assert.Equal(t, []notify.Kind{
		notify.KindInvoiceCreated,
		notify.KindJobCreated,
		notify.KindClientCreated,
	}, out.kinds())
}

func TestFetchFailureWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	store := newStore(t)
	out := &captured{}
	r := New(fetcher, store, out)
	ctx := context.Background()

	fetcher.EXPECT().GetInvoice(gomock.Any(), "inv_1").Return(nil, jobber.ErrNotFound)
	fetcher.EXPECT().GetJob(gomock.Any(), "job_1").Return(nil, errors.New("connection reset"))

	_, err := r.Reconcile(ctx, storage.EntityInvoice, "inv_1")
	var fetchErr *UpstreamFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, storage.EntityInvoice, fetchErr.EntityType)
	assert.ErrorIs(t, err, jobber.ErrNotFound)

	_, err = r.Reconcile(ctx, storage.EntityJob, "job_1")
	require.True(t, errors.As(err, &fetchErr))

	_, err = store.Get(ctx, storage.EntityInvoice, "inv_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(ctx, storage.EntityJob, "job_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, out.got)
}

func TestMissingItemIDAndUnsupportedEntity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	r := New(mocks.NewMockFetcher(ctrl), newStore(t), nil)

	_, err := r.Reconcile(context.Background(), storage.EntityJob, "")
	assert.ErrorIs(t, err, ErrMissingItemID)

	_, err = r.Reconcile(context.Background(), storage.EntityTeam, "T1")
	assert.ErrorIs(t, err, ErrUnsupportedEntity)
}

func TestEnqueueFailureKeepsRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	store := newStore(t)
	r := New(fetcher, store, &captured{err: errors.New("spool full")})

	fetcher.EXPECT().GetClient(gomock.Any(), "client_2").Return(fakeClient(gofakeit.New(7), "client_2"), nil)

	res, err := r.Reconcile(context.Background(), storage.EntityClient, "client_2")
	require.NoError(t, err)
	assert.Len(t, res.Notifications, 1)

	_, err = store.Get(context.Background(), storage.EntityClient, "client_2")
	assert.NoError(t, err)
}

func TestInvoicePaidPolicies(t *testing.T) {
	rules := append(DefaultTransitions(), TransitionRule{
		EntityType: storage.EntityInvoice, To: "PAID", Kind: notify.Kind("invoice_settled"),
	})
	prior := "awaiting_payment"
	res := storage.UpsertResult{
		Record: storage.Record{EntityType: storage.EntityInvoice, ExternalID: "inv_1", Status: ptr("paid")},
		Prior:  storage.EntityRef{ExternalID: "inv_1", EntityType: storage.EntityInvoice, LastKnownStatus: &prior},
	}

	assert.Equal(t, []notify.Kind{notify.KindInvoicePaid}, kindsFor(res, rules, PolicyFirst))
	assert.Equal(t, []notify.Kind{notify.KindInvoicePaid, "invoice_settled"}, kindsFor(res, rules, PolicyAll))

	// Duplicate rules never emit the same kind twice.
	dup := append(rules, DefaultTransitions()...)
	assert.Len(t, kindsFor(res, dup, PolicyAll), 2)

	// Unchanged status emits nothing.
	res.Prior.LastKnownStatus = ptr("PAID")
	assert.Empty(t, kindsFor(res, rules, PolicyAll))

	// A new row never emits a transition, only its creation kind.
	res.Created = true
	res.Prior.LastKnownStatus = nil
	assert.Equal(t, []notify.Kind{notify.KindInvoiceCreated}, kindsFor(res, rules, PolicyAll))
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyFirst, "first": PolicyFirst, " ALL ": PolicyAll} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("some")
	assert.Error(t, err)
}

func TestInvoiceFields(t *testing.T) {
	inv := &jobber.InvoiceNode{
		ID:            "inv_1",
		InvoiceNumber: ptr("1001"),
		InvoiceStatus: ptr("paid"),
		Client:        &jobber.Ref{ID: "client_1"},
		Job:           &jobber.Ref{ID: "job_1"},
		Subtotal:      &jobber.Money{Cents: ptr(int64(10000)), Currency: "cad"},
		Taxes:         &jobber.Money{Cents: ptr(int64(1300))},
		Total:         &jobber.Money{Cents: ptr(int64(11300))},
		LineItems: []jobber.LineItem{
			{Name: ptr("Labor"), Quantity: ptr(2.0), UnitCost: &jobber.Money{Cents: ptr(int64(4000))}, Total: &jobber.Money{Cents: ptr(int64(8000))}},
			{Name: ptr("Parts"), Quantity: ptr(1.0), UnitCost: &jobber.Money{Cents: ptr(int64(2000))}, Total: &jobber.Money{Cents: ptr(int64(2000))}},
		},
	}
	f := InvoiceFields(inv)

	assert.Equal(t, "113.00", *f["total_amount"].(*string))
	assert.Equal(t, "13.00", *f["tax_amount"].(*string))
	assert.Equal(t, "CAD", f["currency"])
	assert.Equal(t, "client_1", f["client_external_id"])
	assert.Equal(t, "job_1", f["job_external_id"])

	raw, err := json.Marshal(f["line_items"])
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"name":"Labor","description":null,"quantity":2,"unit_cost":"40.00","total":"80.00"},
		{"name":"Parts","description":null,"quantity":1,"unit_cost":"20.00","total":"20.00"}
	]`, string(raw))
}

func TestJobFieldsWithoutAmounts(t *testing.T) {
	f := JobFields(&jobber.JobNode{ID: "job_1"})
	assert.Nil(t, f["total_amount"].(*string))
	assert.Equal(t, DefaultCurrency, f["currency"])
	assert.NotContains(t, f, "client_external_id")
	assert.Equal(t, []string{}, f["tags"])
	assert.Nil(t, f["job_number"].(*string))
}

func TestJobNumberStoredAsText(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	r := New(fetcher, newStore(t), &captured{})

	j := job("job_42", "active")
	j.JobNumber = ptr(int64(42))
	fetcher.EXPECT().GetJob(gomock.Any(), "job_42").Return(j, nil)

	res, err := r.Reconcile(context.Background(), storage.EntityJob, "job_42")
	require.NoError(t, err)
	assert.Equal(t, "42", res.Upsert.Record.Text("job_number"))
}

func TestDecimal(t *testing.T) {
	for cents, want := range map[int64]string{
		0: "0.00", 5: "0.05", 12050: "120.50", 100: "1.00", -250: "-2.50", 123456789: "1234567.89",
	} {
		assert.Equal(t, want, Decimal(cents))
	}
}
