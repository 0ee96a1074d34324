package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestRegisterDriver(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "d@example.com", "Driver Kim", pgxmock.AnyArg(), RoleDriver).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("secret", mock)
	user, tokens, err := svc.Register(context.Background(), RegisterRequest{
		Email: "d@example.com", Name: "Driver Kim", Password: "pw", Role: RoleDriver,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleDriver || tokens.AccessToken == "" {
		t.Fatalf("unexpected result: %+v %+v", user, tokens)
	}

	claims, err := svc.ValidateAccessToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Role != RoleDriver || claims.UserID != user.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRegisterDefaultsToUserRole(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "u@example.com", "User", pgxmock.AnyArg(), RoleUser).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("secret", mock)
	user, _, err := svc.Register(context.Background(), RegisterRequest{
		Email: "u@example.com", Name: "User", Password: "pw",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != RoleUser {
		t.Fatalf("expected default USER role, got %q", user.Role)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService("secret", nil)

	if _, _, err := svc.Register(context.Background(), RegisterRequest{Email: "a@b.c"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, _, err := svc.Register(context.Background(), RegisterRequest{
		Email: "a@b.c", Name: "n", Password: "pw", Role: "ADMIN",
	}); err == nil {
		t.Fatalf("expected role validation error")
	}
}

func TestLogin(t *testing.T) {
	mock := newMock(t)

	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT id, email, name, password_hash, role, created_at, updated_at`).
		WithArgs("d@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "password_hash", "role", "created_at", "updated_at"}).
			AddRow("user-1", "d@example.com", "Driver Kim", string(hash), RoleDriver, time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("secret", mock)
	user, tokens, err := svc.Login(context.Background(), LoginRequest{Email: "d@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "user-1" || tokens.RefreshToken == "" {
		t.Fatalf("unexpected result")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	mock := newMock(t)

	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT id, email, name, password_hash, role, created_at, updated_at`).
		WithArgs("d@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "password_hash", "role", "created_at", "updated_at"}).
			AddRow("user-1", "d@example.com", "Driver Kim", string(hash), RoleDriver, time.Now(), time.Now()))

	svc := NewService("secret", mock)
	if _, _, err := svc.Login(context.Background(), LoginRequest{Email: "d@example.com", Password: "wrong"}); err == nil {
		t.Fatalf("expected credentials error")
	}
}

func TestValidateRefreshToken(t *testing.T) {
	mock := newMock(t)
	svc := NewService("secret", mock)

	token, err := svc.signToken("user-1", RoleDriver, refreshTokenTTL)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(token).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow("user-1", time.Now().Add(time.Hour)))

	claims, err := svc.ValidateRefreshToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != RoleDriver {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRefreshTokenMismatch(t *testing.T) {
	mock := newMock(t)
	svc := NewService("secret", mock)

	token, _ := svc.signToken("user-1", RoleDriver, refreshTokenTTL)

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(token).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow("someone-else", time.Now().Add(time.Hour)))

	if _, err := svc.ValidateRefreshToken(context.Background(), token); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestValidateAccessTokenBad(t *testing.T) {
	svc := NewService("secret", nil)
	if _, err := svc.ValidateAccessToken("garbage"); err == nil {
		t.Fatalf("expected parse error")
	}

	other := NewService("other-secret", nil)
	token, _ := other.signToken("user-1", RoleUser, accessTokenTTL)
	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Fatalf("expected signature error")
	}
}

var errAuth = errors.New("auth error")

func TestRegisterInsertError(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "d@example.com", "Driver Kim", pgxmock.AnyArg(), RoleUser).
		WillReturnError(errAuth)

	svc := NewService("secret", mock)
	if _, _, err := svc.Register(context.Background(), RegisterRequest{
		Email: "d@example.com", Name: "Driver Kim", Password: "pw",
	}); !errors.Is(err, errAuth) {
		t.Fatalf("expected insert error, got %v", err)
	}
}
