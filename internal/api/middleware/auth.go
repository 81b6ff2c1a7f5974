// auth.go — JWT middleware консоли.
// Проверяет подпись токена по JWKS IdP, маппит группы субъекта в роль
// (manage или read) и кладёт rbac.Principal в контекст запроса.
// Мутирующие операции проверяют роль сами (rbac.CanManage),
// RequireRead отсекает субъектов без роли.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/openvstorage/framework-alba-plugin-sub000/internal/api/errors"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
)

// idpClaims — claims токена IdP.
type idpClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks         keyfunc.Keyfunc
	logger       *slog.Logger
	manageGroups []string
	readGroups   []string
	issuer       string
	leeway       time.Duration
}

// JWTOptions — параметры NewJWTAuth.
type JWTOptions struct {
	JWKSURL         string
	CACertPath      string
	Issuer          string
	ManageGroups    []string
	ReadGroups      []string
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	Leeway          time.Duration
}

// NewJWTAuth создаёт middleware с ключами из JWKS endpoint IdP.
// Ключи обновляются в фоне; недоступность IdP при старте не ошибка.
func NewJWTAuth(opts JWTOptions, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: opts.ClientTimeout}
	if opts.CACertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(opts.CACertPath, opts.ClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", opts.CACertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           opts.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", opts.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	j := NewJWTAuthWithKeyfunc(k, opts.Issuer, opts.ManageGroups, opts.ReadGroups, logger)
	j.leeway = opts.Leeway
	return j, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовым keyfunc (используется в тестах).
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	manageGroups, readGroups []string,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:         kf,
		logger:       logger.With(slog.String("component", "jwt_auth")),
		manageGroups: manageGroups,
		readGroups:   readGroups,
		issuer:       issuer,
	}
}

func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}, nil
}

// Middleware проверяет Bearer token и кладёт rbac.Principal в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &idpClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			principal := rbac.Principal{
				Subject: raw.Subject,
				Role:    j.effectiveRole(raw),
			}
			next.ServeHTTP(w, r.WithContext(rbac.WithPrincipal(r.Context(), principal)))
		})
	}
}

// effectiveRole вычисляет роль по группам, затем по realm_access.roles.
func (j *JWTAuth) effectiveRole(raw *idpClaims) string {
	if role := rbac.MapGroupsToRole(raw.Groups, j.manageGroups, j.readGroups); role != "" {
		return role
	}
	if raw.RealmAccess == nil {
		return ""
	}
	var valid []string
	for _, r := range raw.RealmAccess.Roles {
		if rbac.IsValidRole(r) {
			valid = append(valid, r)
		}
	}
	return rbac.HighestRole(valid)
}

// RequireRead пропускает только субъектов с ролью read или manage.
// Должен использоваться после JWTAuth.Middleware().
func RequireRead() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := rbac.FromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "Отсутствует субъект в контексте")
				return
			}
			if !p.CanRead() {
				apierrors.Forbidden(w, "Недостаточно прав: требуется роль read или manage")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
