package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"busconnect/pkg/domain"
)

// Screen names a view of the client application.
type Screen string

const (
	ScreenWelcome       Screen = "welcome"
	ScreenAuth          Screen = "auth"
	ScreenDashboard     Screen = "dashboard"
	ScreenProducts      Screen = "products"
	ScreenAddProduct    Screen = "add-product"
	ScreenCart          Screen = "cart"
	ScreenCheckin       Screen = "checkin"
	ScreenCheckedIn     Screen = "checked-in-passengers"
	ScreenUserSelection Screen = "user-selection"
	ScreenChat          Screen = "chat"
)

// screenRoles lists the roles allowed on a screen. Screens absent from the map
// are open to any signed-in user; welcome and auth are open to everyone.
var screenRoles = map[Screen][]domain.Role{
	ScreenAddProduct: {domain.RoleVendor},
	ScreenCart:       {domain.RolePassenger, domain.RoleDriver},
	ScreenCheckin:    {domain.RolePassenger},
	ScreenCheckedIn:  {domain.RoleDriver, domain.RoleVendor},
}

var knownScreens = []Screen{
	ScreenWelcome, ScreenAuth, ScreenDashboard, ScreenProducts, ScreenAddProduct,
	ScreenCart, ScreenCheckin, ScreenCheckedIn, ScreenUserSelection, ScreenChat,
}

var (
	ErrUnknownScreen    = errors.New("unknown screen")
	ErrNotSignedIn      = errors.New("not signed in")
	ErrScreenNotAllowed = errors.New("screen not allowed for role")
	ErrOffline          = errors.New("backend unreachable")
	ErrUnknownProduct   = errors.New("unknown product")
	ErrEmptyCart        = errors.New("cart is empty")
)

// CartItem is a product and the quantity in the cart.
type CartItem struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

// ProductDraft is the vendor's pending new-product form.
type ProductDraft struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Image       string  `json:"image"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

// Receipt is the result of a simulated checkout.
type Receipt struct {
	Items []CartItem `json:"items"`
	Total float64    `json:"total"`
}

// Session is the client-side application state: the current screen, the
// signed-in user, cached lists, chat history, the cart, and a product draft.
// When the backend cannot be reached at Start it serves the cached copy.
type Session struct {
	mu     sync.Mutex
	api    *Client
	cache  *FileCache
	logger *slog.Logger

	screen   Screen
	user     *domain.User
	token    string
	online   bool
	users    []domain.User
	products []domain.Product
	checkins []domain.Checkin
	chats    map[string][]domain.Message
	cart     []CartItem
	draft    ProductDraft
}

// NewSession builds a session on api. cache may be nil to disable offline storage.
func NewSession(api *Client, cache *FileCache) *Session {
	return &Session{
		api:    api,
		cache:  cache,
		logger: slog.Default().With("component", "client_session"),
		screen: ScreenWelcome,
		chats:  map[string][]domain.Message{},
	}
}

// Start probes the backend once. When it answers the lists are loaded and
// cached; otherwise state is restored from the cache and the session stays offline.
func (s *Session) Start(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	h, err := s.api.Health(probeCtx)
	cancel()
	if err == nil && h.Status == "OK" {
		if err = s.Refresh(ctx); err == nil {
			return nil
		}
	}
	s.logger.Warn("backend unreachable, using cached data", "error", err, "status", h.Status)
	return s.restore()
}

func (s *Session) restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = false
	if s.cache == nil {
		return nil
	}
	snap, err := s.cache.Load()
	if err != nil {
		return err
	}
	s.users, s.products, s.checkins = snap.Users, snap.Products, snap.Checkins
	if snap.User != nil {
		u := *snap.User
		s.user, s.token = &u, snap.Token
		s.screen = ScreenDashboard
	}
	return nil
}

// Refresh reloads users, products, and checkins from the backend and caches them.
func (s *Session) Refresh(ctx context.Context) error {
	users, err := s.api.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	products, err := s.api.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	checkins, err := s.api.ListCheckins(ctx)
	if err != nil {
		return fmt.Errorf("load checkins: %w", err)
	}
	s.mu.Lock()
	s.online = true
	s.users, s.products, s.checkins = users, products, checkins
	if s.user != nil && s.screen == ScreenWelcome {
		s.screen = ScreenDashboard
	}
	s.mu.Unlock()
	s.persist()
	return nil
}

// persist writes the cacheable state. Failures are logged; the cache is best effort.
func (s *Session) persist() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	snap := Snapshot{
		Token:    s.token,
		Users:    slices.Clone(s.users),
		Products: slices.Clone(s.products),
		Checkins: slices.Clone(s.checkins),
		SavedAt:  time.Now().UTC(),
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	s.mu.Unlock()
	if err := s.cache.Save(snap); err != nil {
		s.logger.Warn("save offline cache failed", "error", err)
	}
}

// Online reports whether the last Start or Refresh reached the backend.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Session) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// User returns the signed-in user.
func (s *Session) User() (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

func (s *Session) Users() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.users)
}

func (s *Session) Products() []domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.products)
}

func (s *Session) Checkins() []domain.Checkin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.checkins)
}

// VendorProducts returns the products listed by the signed-in vendor.
func (s *Session) VendorProducts() []domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	var out []domain.Product
	for _, p := range s.products {
		if p.Vendor == s.user.Username {
			out = append(out, p)
		}
	}
	return out
}

// Navigate switches screens, refusing screens the current role may not use.
func (s *Session) Navigate(screen Screen) error {
	if !slices.Contains(knownScreens, screen) {
		return fmt.Errorf("%w: %q", ErrUnknownScreen, screen)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if screen != ScreenWelcome && screen != ScreenAuth {
		if s.user == nil {
			return ErrNotSignedIn
		}
		if roles, ok := screenRoles[screen]; ok && !slices.Contains(roles, s.user.Role) {
			return fmt.Errorf("%w: %s on %s", ErrScreenNotAllowed, s.user.Role, screen)
		}
	}
	s.screen = screen
	return nil
}

// SignUp registers and signs in.
func (s *Session) SignUp(ctx context.Context, req SignUpRequest) (domain.User, error) {
	res, err := s.api.CreateUser(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	return s.signedIn(ctx, res), nil
}

// Login signs in with email or username.
func (s *Session) Login(ctx context.Context, req LoginRequest) (domain.User, error) {
	res, err := s.api.Login(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	return s.signedIn(ctx, res), nil
}

func (s *Session) signedIn(ctx context.Context, res AuthResult) domain.User {
	s.mu.Lock()
	u := res.User
	s.user, s.token = &u, res.Token
	s.screen = ScreenDashboard
	s.online = true
	s.mu.Unlock()
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after sign in failed", "error", err)
		s.persist()
	}
	return u
}

// Logout ends the session locally and, when online, on the server.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	token, online, user := s.token, s.online, s.user
	s.mu.Unlock()
	if user == nil {
		return ErrNotSignedIn
	}
	var err error
	if online && token != "" {
		err = s.api.Logout(ctx, token)
	}
	s.mu.Lock()
	for i := range s.users {
		if s.users[i].ID == user.ID {
			s.users[i].Online = false
		}
	}
	s.user, s.token = nil, ""
	s.screen = ScreenWelcome
	s.cart = nil
	s.draft = ProductDraft{}
	clear(s.chats)
	s.mu.Unlock()
	s.persist()
	return err
}

// caller returns the signed-in user and token for a call that needs the backend.
func (s *Session) caller() (domain.User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return domain.User{}, "", ErrNotSignedIn
	}
	if !s.online {
		return domain.User{}, "", ErrOffline
	}
	return *s.user, s.token, nil
}

// AddToCart adds quantity of a cached product to the cart.
func (s *Session) AddToCart(productID int64, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.products, func(p domain.Product) bool { return p.ID == productID })
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownProduct, productID)
	}
	for i := range s.cart {
		if s.cart[i].Product.ID == productID {
			s.cart[i].Quantity += quantity
			return nil
		}
	}
	s.cart = append(s.cart, CartItem{Product: s.products[idx], Quantity: quantity})
	return nil
}

// RemoveFromCart drops a product from the cart.
func (s *Session) RemoveFromCart(productID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = slices.DeleteFunc(s.cart, func(it CartItem) bool { return it.Product.ID == productID })
}

func (s *Session) Cart() []CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cart)
}

// CartTotal sums price times quantity, rounded to cents.
func (s *Session) CartTotal() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cartTotal(s.cart)
}

func cartTotal(items []CartItem) float64 {
	var cents int64
	for _, it := range items {
		cents += int64(math.Round(it.Product.Price*100)) * int64(it.Quantity)
	}
	return float64(cents) / 100
}

// Checkout empties the cart and returns what was bought. No payment is taken.
func (s *Session) Checkout() (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cart) == 0 {
		return Receipt{}, ErrEmptyCart
	}
	r := Receipt{Items: s.cart, Total: cartTotal(s.cart)}
	s.cart = nil
	return r, nil
}

// SetDraft stores the pending product form.
func (s *Session) SetDraft(d ProductDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = d
}

func (s *Session) Draft() ProductDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SubmitDraft lists the draft under the signed-in vendor and clears it.
func (s *Session) SubmitDraft(ctx context.Context) (domain.Product, error) {
	user, _, err := s.caller()
	if err != nil {
		return domain.Product{}, err
	}
	draft := s.Draft()
	if user.Role != domain.RoleVendor {
		return domain.Product{}, fmt.Errorf("%w: %s cannot list products", ErrScreenNotAllowed, user.Role)
	}
	p, err := s.api.CreateProduct(ctx, ProductRequest{
		Name:        strings.TrimSpace(draft.Name),
		Price:       draft.Price,
		Image:       draft.Image,
		Vendor:      user.Username,
		Category:    draft.Category,
		Description: draft.Description,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.mu.Lock()
	s.products = append([]domain.Product{p}, s.products...)
	s.draft = ProductDraft{}
	s.mu.Unlock()
	s.persist()
	return p, nil
}

// CheckIn records the signed-in passenger's location, replacing the cached entry.
func (s *Session) CheckIn(ctx context.Context, location string) (domain.Checkin, error) {
	user, _, err := s.caller()
	if err != nil {
		return domain.Checkin{}, err
	}
	c, err := s.api.CreateCheckin(ctx, CheckinRequest{
		PassengerID:   user.ID,
		PassengerName: user.Username,
		Location:      location,
	})
	if err != nil {
		return domain.Checkin{}, err
	}
	s.mu.Lock()
	s.checkins = slices.DeleteFunc(s.checkins, func(x domain.Checkin) bool { return x.PassengerID == user.ID })
	s.checkins = append([]domain.Checkin{c}, s.checkins...)
	s.mu.Unlock()
	s.persist()
	return c, nil
}

// OpenChat loads the conversation with peer and switches to the chat screen.
func (s *Session) OpenChat(ctx context.Context, peer domain.User) (string, []domain.Message, error) {
	user, token, err := s.caller()
	if err != nil {
		return "", nil, err
	}
	key := domain.ChatKey(user.ID, peer.ID)
	msgs, err := s.api.Messages(ctx, token, key)
	if err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	s.chats[key] = msgs
	s.screen = ScreenChat
	s.mu.Unlock()
	return key, slices.Clone(msgs), nil
}

// Send posts text to peer and appends the stored message to the local history.
func (s *Session) Send(ctx context.Context, peer domain.User, text string) (domain.Message, error) {
	_, token, err := s.caller()
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := s.api.SendMessage(ctx, token, MessageRequest{RecipientID: peer.ID, Text: text})
	if err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	s.chats[msg.ChatKey] = append(s.chats[msg.ChatKey], msg)
	s.mu.Unlock()
	return msg, nil
}

// Messages returns the cached history of a conversation.
func (s *Session) Messages(chatKey string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chats[chatKey])
}
