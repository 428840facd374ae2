package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/pkg/payments"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The fakes keep one mutex per store so conditional updates behave like the
// single-document atomic operations they stand in for.

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{users: map[string]*domain.User{}}
	for _, u := range users {
		if u.ID.IsZero() {
			u.ID = primitive.NewObjectID()
		}
		f.users[u.Email] = u
	}
	return f
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) InsertIfAbsent(_ context.Context, u *domain.User) (*domain.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[u.Email]; ok {
		cp := *existing
		return &cp, false, nil
	}
	u.ID = primitive.NewObjectID()
	cp := *u
	f.users[u.Email] = &cp
	return u, true, nil
}

func (f *fakeUsers) List(context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.User{}
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUsers) DeleteByID(_ context.Context, id primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, u := range f.users {
		if u.ID == id {
			delete(f.users, email)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeUsers) PromoteToOwner(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if u.Role != domain.RoleAdmin {
		u.Role = domain.RoleOwner
	}
	cp := *u
	return &cp, nil
}

type fakeToLet struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*domain.ToLetRequest
}

func newFakeToLet() *fakeToLet {
	return &fakeToLet{docs: map[primitive.ObjectID]*domain.ToLetRequest{}}
}

func (f *fakeToLet) Insert(_ context.Context, req *domain.ToLetRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	cp := *req
	f.docs[req.ID] = &cp
	return nil
}

func (f *fakeToLet) Get(_ context.Context, id primitive.ObjectID) (*domain.ToLetRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeToLet) List(context.Context) ([]domain.ToLetRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.ToLetRequest{}
	for _, d := range f.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeToLet) BeginMove(_ context.Context, id primitive.ObjectID) (*domain.ToLetRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || (d.Status != domain.ListingPending && d.Status != domain.ListingAvailable) {
		return nil, domain.ErrNotFound
	}
	d.Status = domain.ListingAvailable
	cp := *d
	return &cp, nil
}

func (f *fakeToLet) Delete(_ context.Context, id primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return 0, nil
	}
	delete(f.docs, id)
	return 1, nil
}

func (f *fakeToLet) DeletePending(_ context.Context, id primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.Status != domain.ListingPending {
		return 0, nil
	}
	delete(f.docs, id)
	return 1, nil
}

type fakeProperties struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*domain.Property
}

func newFakeProperties(props ...*domain.Property) *fakeProperties {
	f := &fakeProperties{docs: map[primitive.ObjectID]*domain.Property{}}
	for _, p := range props {
		f.docs[p.ID] = p
	}
	return f
}

func (f *fakeProperties) InsertMoved(_ context.Context, p *domain.Property) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[p.ID]; ok {
		return false, nil
	}
	cp := *p
	f.docs[p.ID] = &cp
	return true, nil
}

func (f *fakeProperties) Get(_ context.Context, id primitive.ObjectID) (*domain.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeProperties) filter(keep func(*domain.Property) bool) []domain.Property {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Property{}
	for _, d := range f.docs {
		if keep(d) {
			out = append(out, *d)
		}
	}
	return out
}

func (f *fakeProperties) ListAvailable(context.Context) ([]domain.Property, error) {
	return f.filter(func(p *domain.Property) bool { return p.Status == domain.ListingAvailable }), nil
}

func (f *fakeProperties) ListAll(context.Context) ([]domain.Property, error) {
	return f.filter(func(*domain.Property) bool { return true }), nil
}

func (f *fakeProperties) ListByHost(_ context.Context, email string) ([]domain.Property, error) {
	return f.filter(func(p *domain.Property) bool { return p.HostEmail == email }), nil
}

func (f *fakeProperties) UpdateDetails(_ context.Context, id primitive.ObjectID, details domain.ListingDetails) (*domain.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	d.ListingDetails = details
	d.UpdatedAt = time.Now()
	cp := *d
	return &cp, nil
}

func (f *fakeProperties) MarkBooked(_ context.Context, id, bookingID primitive.ObjectID) (*domain.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	switch {
	case d.Status == domain.ListingAvailable:
	case d.Status == domain.ListingBooked && d.BookingID != nil && *d.BookingID == bookingID:
	default:
		return nil, domain.ErrConflict
	}
	d.Status = domain.ListingBooked
	d.BookingID = &bookingID
	cp := *d
	return &cp, nil
}

func (f *fakeProperties) Delete(_ context.Context, id primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return 0, nil
	}
	delete(f.docs, id)
	return 1, nil
}

type fakeBookingRequests struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*domain.BookingRequest
}

func newFakeBookingRequests() *fakeBookingRequests {
	return &fakeBookingRequests{docs: map[primitive.ObjectID]*domain.BookingRequest{}}
}

func (f *fakeBookingRequests) Insert(_ context.Context, req *domain.BookingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	cp := *req
	f.docs[req.ID] = &cp
	return nil
}

func (f *fakeBookingRequests) Get(_ context.Context, id primitive.ObjectID) (*domain.BookingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeBookingRequests) List(context.Context) ([]domain.BookingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.BookingRequest{}
	for _, d := range f.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeBookingRequests) ListRequestedForHost(_ context.Context, host string) ([]domain.BookingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.BookingRequest{}
	for _, d := range f.docs {
		if d.HostEmail == host && d.Status == domain.ClaimRequested {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeBookingRequests) BeginMove(_ context.Context, id primitive.ObjectID) (*domain.BookingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || (d.Status != domain.ClaimRequested && d.Status != domain.ClaimAccepted) {
		return nil, domain.ErrNotFound
	}
	d.Status = domain.ClaimAccepted
	cp := *d
	return &cp, nil
}

func (f *fakeBookingRequests) Delete(_ context.Context, id primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return 0, nil
	}
	delete(f.docs, id)
	return 1, nil
}

func (f *fakeBookingRequests) DeleteRequested(_ context.Context, id primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.Status != domain.ClaimRequested {
		return 0, nil
	}
	delete(f.docs, id)
	return 1, nil
}

type fakeBookings struct {
	mu      sync.Mutex
	docs    map[primitive.ObjectID]*domain.Booking
	inserts int
}

func newFakeBookings(bookings ...*domain.Booking) *fakeBookings {
	f := &fakeBookings{docs: map[primitive.ObjectID]*domain.Booking{}}
	for _, b := range bookings {
		f.docs[b.ID] = b
	}
	return f
}

func (f *fakeBookings) InsertMoved(_ context.Context, b *domain.Booking) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[b.ID]; ok {
		return false, nil
	}
	f.inserts++
	cp := *b
	f.docs[b.ID] = &cp
	return true, nil
}

func (f *fakeBookings) Get(_ context.Context, id primitive.ObjectID) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeBookings) List(context.Context) ([]domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Booking{}
	for _, d := range f.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeBookings) ListByClaimer(_ context.Context, email string) ([]domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Booking{}
	for _, d := range f.docs {
		if d.Claimer == email {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeBookings) MarkBooked(_ context.Context, id primitive.ObjectID, tx string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if d.Status == domain.ClaimBooked && d.TransactionID != tx {
		return nil, domain.ErrConflict
	}
	now := time.Now()
	d.Status = domain.ClaimBooked
	d.TransactionID = tx
	if d.BookedAt == nil {
		d.BookedAt = &now
	}
	cp := *d
	return &cp, nil
}

type fakePayments struct {
	mu   sync.Mutex
	byTx map[string]*domain.Payment
}

func newFakePayments() *fakePayments {
	return &fakePayments{byTx: map[string]*domain.Payment{}}
}

func (f *fakePayments) Record(_ context.Context, p *domain.Payment) (*domain.Payment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byTx[p.TransactionID]; ok {
		if existing.BookingID != p.BookingID {
			return nil, false, domain.ErrConflict
		}
		cp := *existing
		return &cp, false, nil
	}
	p.ID = primitive.NewObjectID()
	cp := *p
	f.byTx[p.TransactionID] = &cp
	return p, true, nil
}

func (f *fakePayments) ListByEmail(_ context.Context, email string) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Payment{}
	for _, p := range f.byTx {
		if p.Email == email {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePayments) GetByBooking(_ context.Context, bookingID string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byTx {
		if p.BookingID == bookingID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeOwnership struct {
	mu   sync.Mutex
	docs map[string]*domain.OwnershipRequest
}

func newFakeOwnership() *fakeOwnership {
	return &fakeOwnership{docs: map[string]*domain.OwnershipRequest{}}
}

func (f *fakeOwnership) Upsert(_ context.Context, req *domain.OwnershipRequest) (*domain.OwnershipRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.docs[req.Email]; ok {
		existing.Name, existing.Message = req.Name, req.Message
		cp := *existing
		return &cp, nil
	}
	req.ID = primitive.NewObjectID()
	cp := *req
	f.docs[req.Email] = &cp
	return req, nil
}

func (f *fakeOwnership) List(context.Context) ([]domain.OwnershipRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.OwnershipRequest{}
	for _, d := range f.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeOwnership) DeleteByEmail(_ context.Context, email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[email]; !ok {
		return 0, nil
	}
	delete(f.docs, email)
	return 1, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events map[string]*domain.OutboxEvent
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{events: map[string]*domain.OutboxEvent{}}
}

func (f *fakeOutbox) Append(_ context.Context, ev *domain.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[ev.ID]; !ok {
		f.events[ev.ID] = ev
	}
	return nil
}

func (f *fakeOutbox) Pending(context.Context, int, int) ([]domain.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkDispatched(context.Context, string, time.Time) error { return nil }

func (f *fakeOutbox) MarkFailed(context.Context, string, error) error { return nil }

func (f *fakeOutbox) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Subject == subject {
			n++
		}
	}
	return n
}

type fakeCache struct {
	mu    sync.Mutex
	data  map[string][]domain.Property
	hits  int
	drops int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]domain.Property{}}
}

func (c *fakeCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return false, nil
	}
	c.hits++
	*(dest.(*[]domain.Property)) = v
	return true, nil
}

func (c *fakeCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value.([]domain.Property)
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.drops++
	}
	return nil
}

type fakeProcessor struct {
	mu      sync.Mutex
	created []*payments.Intent
	intents map[string]*payments.Intent
	getErr  error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{intents: map[string]*payments.Intent{}}
}

func (p *fakeProcessor) CreateIntent(_ context.Context, amount int64, currency string, metadata map[string]string) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in := &payments.Intent{
		ID:           fmt.Sprintf("pi_%d", len(p.created)+1),
		ClientSecret: fmt.Sprintf("pi_%d_secret", len(p.created)+1),
		Amount:       amount,
		Currency:     currency,
		Status:       "requires_payment_method",
		Metadata:     metadata,
	}
	p.created = append(p.created, in)
	return in, nil
}

func (p *fakeProcessor) GetIntent(_ context.Context, id string) (*payments.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	in, ok := p.intents[id]
	if !ok {
		return nil, payments.ErrIntentNotFound
	}
	return in, nil
}

var errBoom = errors.New("boom")
