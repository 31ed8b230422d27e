// Package identity tracks the signed-in user.
package identity

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

type User struct {
	ID   string
	Name string
}

// Provider reports authentication changes. OnAuthChange invokes fn
// immediately with the current user (nil when signed out) and again on every
// change until the returned func is called.
type Provider interface {
	OnAuthChange(fn func(*User)) func()
	SignIn(ctx context.Context) (*User, error)
	SignOut(ctx context.Context) error
	CurrentUser() *User
}

// Local signs users in by name. The same name always maps to the same id, so
// history survives restarts.
type Local struct {
	mu          sync.Mutex
	user        *User
	defaultName string
	nextID      int
	listeners   map[int]func(*User)
}

var _ Provider = (*Local)(nil)

// NewLocal creates a provider whose SignIn uses defaultName, falling back to
// the USER environment variable.
func NewLocal(defaultName string) *Local {
	return &Local{defaultName: defaultName, listeners: make(map[int]func(*User))}
}

// UserID derives the stable id for name.
func UserID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("floatchat:"+name)).String()
}

func (l *Local) OnAuthChange(fn func(*User)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	current := l.user
	l.mu.Unlock()

	fn(current)

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *Local) SignIn(ctx context.Context) (*User, error) {
	name := l.defaultName
	if name == "" {
		name = os.Getenv("USER")
	}
	return l.SignInAs(ctx, name)
}

// SignInAs signs in as name, replacing any current user.
func (l *Local) SignInAs(_ context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, oops.In("identity").Code("empty_name").Errorf("a user name is required to sign in")
	}

	u := &User{ID: UserID(name), Name: name}
	l.set(u)
	return u, nil
}

func (l *Local) SignOut(_ context.Context) error {
	l.set(nil)
	return nil
}

func (l *Local) CurrentUser() *User {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.user
}

func (l *Local) set(u *User) {
	l.mu.Lock()
	if l.user == u || (l.user != nil && u != nil && l.user.ID == u.ID) {
		l.mu.Unlock()
		return
	}
	l.user = u
	fns := make([]func(*User), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}
