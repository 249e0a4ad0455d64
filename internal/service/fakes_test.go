package service_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
	"github.com/boddenberg/gestor-assinaturas-go/internal/port"
)

// --- Mocks ---

// memStore is an in-memory BillingStore honouring the unique keys the real
// gateway enforces (payments.external_event_id, subscriptions.empresa_id,
// notifications.dedupe_key).
type memStore struct {
	mu            sync.Mutex
	subs          map[string]*domain.Subscription // by id
	payments      map[string]domain.Payment       // by external_event_id
	profiles      map[string]*domain.Profile      // by id
	empresas      map[string]*domain.Empresa
	notifications map[string]domain.Notification // by dedupe key
	claims        map[string]domain.EventClaim   // by event id
	audit         []domain.AuditEntry

	// failures injected per operation name
	fail map[string]error
	// operations that commit and then answer with a unique violation, the way
	// a retried insert does when the first answer was lost
	lostAck map[string]bool

	bulkCalls   int
	upsertCalls int
}

func newMemStore() *memStore {
	return &memStore{
		subs:          map[string]*domain.Subscription{},
		payments:      map[string]domain.Payment{},
		profiles:      map[string]*domain.Profile{},
		empresas:      map[string]*domain.Empresa{},
		notifications: map[string]domain.Notification{},
		claims:        map[string]domain.EventClaim{},
		fail:          map[string]error{},
		lostAck:       map[string]bool{},
	}
}

var _ port.BillingStore = (*memStore)(nil)

func (m *memStore) failOn(op string, err error) { m.fail[op] = err }

func (m *memStore) addSubscription(sub domain.Subscription) *domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = "sub-" + sub.EmpresaID
	}
	m.subs[sub.ID] = &sub
	return &sub
}

func (m *memStore) addProfile(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = &p
}

func (m *memStore) byEmpresa(empresaID string) *domain.Subscription {
	for _, s := range m.subs {
		if s.EmpresaID == empresaID {
			return s
		}
	}
	return nil
}

func (m *memStore) subscriptionOf(empresaID string) *domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.byEmpresa(empresaID); s != nil {
		c := *s
		return &c
	}
	return nil
}

func (m *memStore) paymentCount(eventID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[eventID]; ok {
		return 1
	}
	return 0
}

func apply(s *domain.Subscription, upd domain.SubscriptionUpdate) {
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.CurrentPeriodStart != nil {
		t := *upd.CurrentPeriodStart
		s.CurrentPeriodStart = &t
	}
	if upd.CurrentPeriodEnd != nil {
		t := *upd.CurrentPeriodEnd
		s.CurrentPeriodEnd = &t
	}
	if upd.CancelAt != nil {
		t := *upd.CancelAt
		s.CancelAt = &t
	}
	if upd.IsRecurring != nil {
		s.IsRecurring = *upd.IsRecurring
	}
}

// --- SubscriptionStore ---

func (m *memStore) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	if err := m.fail["get_subscription"]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "subscription", ID: id}
	}
	c := *s
	return &c, nil
}

func (m *memStore) GetSubscriptionByEmpresa(_ context.Context, empresaID string) (*domain.Subscription, error) {
	if err := m.fail["get_subscription"]; err != nil {
		return nil, err
	}
	if s := m.subscriptionOf(empresaID); s != nil {
		return s, nil
	}
	return nil, &domain.ErrNotFound{Resource: "subscription", ID: empresaID}
}

func (m *memStore) GetSubscriptionByExternalID(_ context.Context, externalID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ExternalSubscriptionID == externalID {
			c := *s
			return &c, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "subscription", ID: externalID}
}

func (m *memStore) CreateSubscription(_ context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	if err := m.fail["create_subscription"]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byEmpresa(sub.EmpresaID) != nil {
		return nil, &domain.ErrDuplicate{Key: "create_subscription"}
	}
	c := *sub
	c.ID = "sub-" + sub.EmpresaID
	m.subs[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memStore) UpsertSubscription(_ context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	if err := m.fail["upsert_subscription"]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	existing := m.byEmpresa(sub.EmpresaID)
	if existing == nil {
		c := *sub
		c.ID = "sub-" + sub.EmpresaID
		m.subs[c.ID] = &c
		out := c
		return &out, nil
	}
	existing.Status = sub.Status
	existing.IsRecurring = sub.IsRecurring
	if sub.CurrentPeriodStart != nil {
		existing.CurrentPeriodStart = sub.CurrentPeriodStart
	}
	if sub.CurrentPeriodEnd != nil {
		existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	if sub.ExternalSubscriptionID != "" {
		existing.ExternalSubscriptionID = sub.ExternalSubscriptionID
	}
	out := *existing
	return &out, nil
}

func (m *memStore) UpdateSubscription(_ context.Context, id string, upd domain.SubscriptionUpdate) error {
	if err := m.fail["update_subscription"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		apply(s, upd)
	}
	return nil
}

func (m *memStore) UpdateSubscriptionByEmpresa(_ context.Context, empresaID string, upd domain.SubscriptionUpdate) error {
	if err := m.fail["update_subscription"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.byEmpresa(empresaID); s != nil {
		apply(s, upd)
	}
	return nil
}

func (m *memStore) DeleteSubscription(_ context.Context, id string) error {
	if err := m.fail["delete_subscription"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *memStore) ListTrialsEndingBefore(_ context.Context, t time.Time) ([]domain.Subscription, error) {
	if err := m.fail["list_trials"]; err != nil {
		return nil, err
	}
	return m.trials(func(end time.Time) bool { return end.Before(t) }), nil
}

func (m *memStore) ListTrialsEndingBetween(_ context.Context, from, to time.Time) ([]domain.Subscription, error) {
	if err := m.fail["list_expiring"]; err != nil {
		return nil, err
	}
	return m.trials(func(end time.Time) bool { return !end.Before(from) && !end.After(to) }), nil
}

func (m *memStore) trials(match func(time.Time) bool) []domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.subs {
		if s.Status == domain.StatusTrial && s.TrialEndDate != nil && match(*s.TrialEndDate) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) BulkUpdateStatus(_ context.Context, ids []string, from, to domain.SubscriptionStatus) (int, error) {
	if err := m.fail["bulk_update_status"]; err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCalls++
	n := 0
	for _, id := range ids {
		if s, ok := m.subs[id]; ok && s.Status == from {
			s.Status = to
			n++
		}
	}
	return n, nil
}

// --- PaymentStore ---

func (m *memStore) PaymentExists(_ context.Context, eventID string) (bool, error) {
	if err := m.fail["payment_exists"]; err != nil {
		return false, err
	}
	return m.paymentCount(eventID) == 1, nil
}

func (m *memStore) InsertPayment(_ context.Context, p *domain.Payment) error {
	if err := m.fail["insert_payment"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ExternalEventID]; ok {
		return &domain.ErrDuplicate{Key: "insert_payment"}
	}
	m.payments[p.ExternalEventID] = *p
	if m.lostAck["insert_payment"] {
		return &domain.ErrDuplicate{Key: "insert_payment"}
	}
	return nil
}

func (m *memStore) PaymentIDByEvent(_ context.Context, eventID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[eventID]
	if !ok {
		return "", &domain.ErrNotFound{Resource: "payments", ID: eventID}
	}
	return p.ID, nil
}

// --- EventClaimStore ---

func (m *memStore) EventClaimed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claims[eventID]
	return ok, nil
}

func (m *memStore) EventClaimID(_ context.Context, eventID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[eventID]
	if !ok {
		return "", &domain.ErrNotFound{Resource: "processed_events", ID: eventID}
	}
	return c.ID, nil
}

func (m *memStore) ClaimEvent(_ context.Context, claim *domain.EventClaim) error {
	if err := m.fail["claim_event"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[claim.EventID]; ok {
		return &domain.ErrDuplicate{Key: "claim_event"}
	}
	m.claims[claim.EventID] = *claim
	if m.lostAck["claim_event"] {
		return &domain.ErrDuplicate{Key: "claim_event"}
	}
	return nil
}

// --- ProfileStore / EmpresaStore ---

func (m *memStore) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	c := *p
	return &c, nil
}

func (m *memStore) FindProfileByEmail(_ context.Context, email string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, email) {
			c := *p
			return &c, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "profile", ID: email}
}

func (m *memStore) SetProfilesActive(_ context.Context, empresaID string, ativo bool) error {
	if err := m.fail["set_profiles_active"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.EmpresaID == empresaID {
			p.Ativo = ativo
		}
	}
	return nil
}

func (m *memStore) profilesOf(empresaID string) []domain.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Profile
	for _, p := range m.profiles {
		if p.EmpresaID == empresaID {
			out = append(out, *p)
		}
	}
	return out
}

func (m *memStore) GetEmpresa(_ context.Context, id string) (*domain.Empresa, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.empresas[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "empresa", ID: id}
	}
	c := *e
	return &c, nil
}

// --- NotificationStore / AuditLogger ---

func (m *memStore) InsertNotification(_ context.Context, n *domain.Notification) (bool, error) {
	if err := m.fail["insert_notification"]; err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.DedupeKey]; ok {
		return false, nil
	}
	m.notifications[n.DedupeKey] = *n
	return true, nil
}

func (m *memStore) notificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

func (m *memStore) LogSubscriptionAction(_ context.Context, entry domain.AuditEntry) error {
	if err := m.fail["audit"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// --- Authorizer ---

type mockAuthorizer struct {
	admins map[string]bool
	err    error
	calls  []string
}

func (a *mockAuthorizer) ForCaller(token string) port.Authorizer {
	a.calls = append(a.calls, token)
	return callerAuthorizer{parent: a, token: token}
}

type callerAuthorizer struct {
	parent *mockAuthorizer
	token  string
}

func (c callerAuthorizer) IsSuperAdmin(context.Context) (bool, error) {
	if c.parent.err != nil {
		return false, c.parent.err
	}
	return c.parent.admins[c.token], nil
}

// --- Notifier ---

type mockNotifier struct {
	mu   sync.Mutex
	name string
	err  error
	sent []string
}

func (n *mockNotifier) Name() string { return n.name }

func (n *mockNotifier) Notify(_ context.Context, empresa *domain.Empresa, _ *domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, empresa.ID)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// --- Invalidator ---

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingInvalidator) Invalidate(empresaID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, empresaID)
}

var errBoom = errors.New("boom")

func timePtr(t time.Time) *time.Time { return &t }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }
