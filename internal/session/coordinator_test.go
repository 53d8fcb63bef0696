package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Kronh4rd/kolibri/internal/rest"
	"github.com/Kronh4rd/kolibri/internal/store"
	"github.com/Kronh4rd/kolibri/pkg/crypto"
	"github.com/Kronh4rd/kolibri/pkg/domain"
)

func reply(t *testing.T, w http.ResponseWriter, message string, content any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(map[string]any{"message": message, "content": content}); err != nil {
		t.Errorf("encode reply: %v", err)
	}
}

func userContent(uid, username, email string) map[string]string {
	return map[string]string{"uid": uid, "username": username, "email": email}
}

func newCoordinator(t *testing.T, handler http.Handler) (*Coordinator, *store.MemoryStore, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	st := store.NewMemoryStore()
	return NewCoordinator(rest.NewClient(srv.URL), st), st, srv
}

func TestLoginAuthorizedCommitsExactlyOneSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgAuthorized, "token-x")
	})
	mux.HandleFunc("/api/v1/users/get", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, userContent("u1", "karl", "k@b.de"))
	})
	mux.HandleFunc("/api/v1/users/public-key", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	var commits int32
	st.OnUserChanged(func(u *domain.User) {
		if u != nil {
			atomic.AddInt32(&commits, 1)
		}
	})

	if err := coord.Login(context.Background(), "k@b.de", "pass1234"); err != nil {
		t.Fatalf("login: %v", err)
	}
	user, ok, _ := st.CurrentUser()
	if !ok {
		t.Fatalf("expected committed session")
	}
	if user.AccessToken != "token-x" {
		t.Fatalf("expected access token, got %q", user.AccessToken)
	}
	if user.PrivateKey == "" {
		t.Fatalf("fresh device login should generate a keypair")
	}
	if got := atomic.LoadInt32(&commits); got != 1 {
		t.Fatalf("expected exactly one commit, got %d", got)
	}
}

func TestLoginUnauthorizedMutatesNothing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgUnauthorized, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	err := coord.Login(context.Background(), "k@b.de", "wrong123")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got: %v", err)
	}
	if _, ok, _ := st.CurrentUser(); ok {
		t.Fatalf("unauthorized login must not create a partial session")
	}
}

func TestLoginOfflineSurfacesGenericError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	st := store.NewMemoryStore()
	coord := NewCoordinator(rest.NewClient(srv.URL), st)

	err := coord.Login(context.Background(), "k@b.de", "pass1234")
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got: %v", err)
	}
	if _, ok, _ := st.CurrentUser(); ok {
		t.Fatalf("offline login must not mutate the store")
	}
}

func TestRegisterHappyPath(t *testing.T) {
	var registered atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/check/username/karl", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgFree, nil)
	})
	mux.HandleFunc("/api/v1/users/check/email/k@b.de", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgFree, nil)
	})
	mux.HandleFunc("/api/v1/users/register", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Password  string `json:"password"`
			PublicKey string `json:"publicKey"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode register payload: %v", err)
		}
		if payload.Password != crypto.Hash("pass1234") {
			t.Errorf("password must arrive as digest, got %q", payload.Password)
		}
		if payload.PublicKey == "" {
			t.Errorf("registration must carry the device public key")
		}
		registered.Store(true)
		reply(t, w, rest.MsgOK, nil)
	})
	mux.HandleFunc("/api/v1/users/email/k@b.de", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, userContent("u1", "karl", "k@b.de"))
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgAuthorized, "token-1")
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := coord.Register(context.Background(), "karl", "k@b.de", "pass1234", "pass1234"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !registered.Load() {
		t.Fatalf("register call never reached the backend")
	}
	user, ok, _ := st.CurrentUser()
	if !ok || user.UID != "u1" || user.AccessToken != "token-1" || user.PrivateKey == "" {
		t.Fatalf("unexpected session after registration: %+v, ok=%v", user, ok)
	}
}

func TestRegisterStopsOnTakenUsername(t *testing.T) {
	var createCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/check/username/karl", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgTaken, nil)
	})
	mux.HandleFunc("/api/v1/users/register", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&createCalls, 1)
		reply(t, w, rest.MsgOK, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	err := coord.Register(context.Background(), "karl", "k@b.de", "pass1234", "pass1234")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got: %v", err)
	}
	if atomic.LoadInt32(&createCalls) != 0 {
		t.Fatalf("create must not be issued when validation fails")
	}
	if _, ok, _ := st.CurrentUser(); ok {
		t.Fatalf("no session may exist after a failed registration")
	}
}

func TestRegisterLocalValidationBeforeNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		reply(t, w, rest.MsgFree, nil)
	}))
	defer srv.Close()
	coord := NewCoordinator(rest.NewClient(srv.URL), store.NewMemoryStore())

	if err := coord.Register(context.Background(), "ab", "k@b.de", "pass1234", "pass1234"); !errors.Is(err, ErrUsernameInvalid) {
		t.Fatalf("expected ErrUsernameInvalid, got: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("short username must be rejected before any network call")
	}
}

func TestRegisterRejectsPasswordMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/check/username/karl", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgFree, nil)
	})
	mux.HandleFunc("/api/v1/users/check/email/k@b.de", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgFree, nil)
	})
	coord, _, _ := newCoordinator(t, mux)

	if err := coord.Register(context.Background(), "karl", "k@b.de", "pass1234", "different1"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got: %v", err)
	}
}

func TestSaveProfileTakenEmailLeavesUserUnchanged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/check/email/other@b.de", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgTaken, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	original := domain.User{UID: "u1", Username: "karl", Email: "k@b.de", AccessToken: "tok", PrivateKey: "priv"}
	if err := st.SaveUser(original); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	err := coord.SaveProfile(context.Background(), ProfileUpdate{Username: "karl", Email: "other@b.de"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got: %v", err)
	}
	user, _, _ := st.CurrentUser()
	if user.Email != "k@b.de" || user.AccessToken != "tok" {
		t.Fatalf("rejected save must leave the committed user unchanged: %+v", user)
	}
}

func TestSaveProfileAcceptsTakenByYou(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/check/email/k@b.de", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgTakenByYou, nil)
	})
	mux.HandleFunc("/api/v1/users/update", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, "") // no token rotation
	})
	mux.HandleFunc("/api/v1/users/get", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, userContent("u1", "karl2", "k@b.de"))
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := st.SaveUser(domain.User{UID: "u1", Username: "karl", Email: "k@b.de", AccessToken: "tok", PrivateKey: "priv"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := coord.SaveProfile(context.Background(), ProfileUpdate{Username: "karl2", Email: "k@b.de"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	user, _, _ := st.CurrentUser()
	if user.Username != "karl2" || user.AccessToken != "tok" || user.PrivateKey != "priv" {
		t.Fatalf("unexpected user after save: %+v", user)
	}
}

func TestSaveProfileTokenRotation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/check/email/new@b.de", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgFree, nil)
	})
	mux.HandleFunc("/api/v1/users/update", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer old-token" {
			t.Errorf("update must use the old token, got %q", got)
		}
		reply(t, w, rest.MsgOK, "new-token")
	})
	mux.HandleFunc("/api/v1/users/get", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer new-token" {
			t.Errorf("re-fetch must use the rotated token, got %q", got)
		}
		reply(t, w, rest.MsgOK, userContent("u1", "karl", "new@b.de"))
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := st.SaveUser(domain.User{UID: "u1", Username: "karl", Email: "k@b.de", AccessToken: "old-token", PrivateKey: "priv"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := coord.SaveProfile(context.Background(), ProfileUpdate{Username: "karl", Email: "new@b.de"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	user, _, _ := st.CurrentUser()
	if user.AccessToken != "new-token" {
		t.Fatalf("old token must be discarded for the rotated one, got %q", user.AccessToken)
	}
	if user.Email != "new@b.de" {
		t.Fatalf("unexpected email %q", user.Email)
	}
}

func TestStagePasswordRequiresReauth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password == crypto.Hash("oldpass1") {
			reply(t, w, rest.MsgAuthorized, "tok")
			return
		}
		reply(t, w, rest.MsgUnauthorized, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := st.SaveUser(domain.User{UID: "u1", Email: "k@b.de", AccessToken: "tok"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := coord.StagePassword(context.Background(), "wrongold1", "newpass12", "newpass12"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong old password, got: %v", err)
	}
	if got := coord.takeStagedPassword(); got != "" {
		t.Fatalf("nothing may be staged after failed re-auth, got %q", got)
	}

	if err := coord.StagePassword(context.Background(), "oldpass1", "newpass12", "newpass12"); err != nil {
		t.Fatalf("stage password: %v", err)
	}
	if got := coord.takeStagedPassword(); got != crypto.Hash("newpass12") {
		t.Fatalf("expected staged digest, got %q", got)
	}
}

func TestStagedPasswordRidesNextProfileSave(t *testing.T) {
	var sawPassword atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgAuthorized, "tok")
	})
	mux.HandleFunc("/api/v1/users/check/email/k@b.de", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgTakenByYou, nil)
	})
	mux.HandleFunc("/api/v1/users/update", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		sawPassword.Store(payload.Password)
		reply(t, w, rest.MsgOK, "")
	})
	mux.HandleFunc("/api/v1/users/get", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, userContent("u1", "karl", "k@b.de"))
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := st.SaveUser(domain.User{UID: "u1", Username: "karl", Email: "k@b.de", AccessToken: "tok", PrivateKey: "priv"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := coord.StagePassword(context.Background(), "oldpass1", "newpass12", "newpass12"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := coord.SaveProfile(context.Background(), ProfileUpdate{Username: "karl", Email: "k@b.de"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	if got, _ := sawPassword.Load().(string); got != crypto.Hash("newpass12") {
		t.Fatalf("update payload should carry the staged digest, got %q", got)
	}
	if got := coord.takeStagedPassword(); got != "" {
		t.Fatalf("staged digest must be cleared after the save, got %q", got)
	}
}

func TestRefreshUserStaleTokenGuard(t *testing.T) {
	// The fetch under token X completes only after the session was replaced
	// with token Z; the late result must not overwrite session B.
	var st *store.MemoryStore
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/get", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-x" {
			// Session B lands while the fetch for session A is in flight.
			if err := st.SaveUser(domain.User{UID: "u2", Username: "erika", Email: "e@b.de", AccessToken: "token-z"}); err != nil {
				t.Errorf("replace session: %v", err)
			}
			reply(t, w, rest.MsgOK, userContent("u1", "karl", "k@b.de"))
			return
		}
		reply(t, w, rest.MsgOK, userContent("u2", "erika", "e@b.de"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st = store.NewMemoryStore()
	coord := NewCoordinator(rest.NewClient(srv.URL), st)
	if err := st.SaveUser(domain.User{UID: "u1", Username: "karl", Email: "k@b.de", AccessToken: "token-x"}); err != nil {
		t.Fatalf("seed session A: %v", err)
	}

	if err := coord.RefreshUser(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	user, ok, _ := st.CurrentUser()
	if !ok || user.UID != "u2" || user.AccessToken != "token-z" {
		t.Fatalf("stale result overwrote the newer session: %+v", user)
	}
}

func TestDeleteAccountClearsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/delete", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := st.SaveUser(domain.User{UID: "u1", Email: "k@b.de", AccessToken: "tok", PrivateKey: "priv"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var sentinel atomic.Bool
	st.OnUserChanged(func(u *domain.User) {
		if u == nil {
			sentinel.Store(true)
		}
	})

	if err := coord.DeleteAccount(context.Background()); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, ok, _ := st.CurrentUser(); ok {
		t.Fatalf("session must be cleared after deletion")
	}
	if !sentinel.Load() {
		t.Fatalf("listeners must see the logged-out sentinel")
	}
}

func TestDeleteAccountFailureKeepsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/delete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		reply(t, w, rest.MsgError, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := st.SaveUser(domain.User{UID: "u1", Email: "k@b.de", AccessToken: "tok"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := coord.DeleteAccount(context.Background()); err == nil {
		t.Fatalf("expected failure to surface")
	}
	if _, ok, _ := st.CurrentUser(); !ok {
		t.Fatalf("failed deletion must leave the session intact")
	}
}

func TestAsyncDispatchDoesNotBlock(t *testing.T) {
	done := make(chan struct{})
	ch := Go(func() (int, error) {
		<-done
		return 42, nil
	})
	select {
	case <-ch:
		t.Fatalf("result before the flow finished")
	default:
	}
	close(done)
	res := <-ch
	if res.Err != nil || res.Value != 42 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAsyncDispatchErrorOnlyFlow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgAuthorized, "token-x")
	})
	mux.HandleFunc("/api/v1/users/get", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, userContent("u1", "karl", "k@b.de"))
	})
	mux.HandleFunc("/api/v1/users/public-key", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, rest.MsgOK, nil)
	})

	coord, st, _ := newCoordinator(t, mux)
	if err := <-Do(func() error {
		return coord.Login(context.Background(), "k@b.de", "pass1234")
	}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, ok, _ := st.CurrentUser(); !ok {
		t.Fatalf("dispatched login should commit the session")
	}

	if err := <-Do(func() error { return coord.Logout() }); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := st.CurrentUser(); ok {
		t.Fatalf("dispatched logout should clear the session")
	}
}
