// Package bindings is the application layer shared by the gamesim CLI and the
// local server: it wires the settings store, credentials and API clients
// together behind one App.
package bindings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/credentials"
	"github.com/MJE43/game-simulation-go/internal/gamesim"
	"github.com/MJE43/game-simulation-go/internal/logging"
	"github.com/MJE43/game-simulation-go/internal/paramtypes"
	"github.com/MJE43/game-simulation-go/internal/remoteconfig"
	"github.com/MJE43/game-simulation-go/internal/store"
)

const (
	appDirName   = "gamesim"
	dbFileName   = "gamesim.db"
	fallbackName = "tokens_fallback.json"
)

// Config is read from the environment. Values set here win over the ones
// stored in the settings database.
type Config struct {
	DataDir        string `env:"GAMESIM_DATA_DIR"`
	APIURL         string `env:"GAMESIM_API_URL"`
	ProjectID      string `env:"GAMESIM_PROJECT_ID"`
	AccessToken    string `env:"GAMESIM_ACCESS_TOKEN"`
	RemoteAdminURL string `env:"GAMESIM_REMOTE_CONFIG_ADMIN_URL"`
	KeyringService string `env:"GAMESIM_KEYRING_SERVICE" envDefault:"gamesim"`

	HTTPClient *http.Client `env:"-"`
}

// LoadConfig parses Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("bindings: parse environment: %w", err)
	}
	return cfg, nil
}

// App is the workbench facade.
type App struct {
	cfg Config
	ctx context.Context
	log zerolog.Logger

	mu       sync.RWMutex
	db       store.DB
	tokens   *credentials.TokenStore
	client   *gamesim.Client
	admin    *remoteconfig.AdminClient
	resolver *paramtypes.Resolver
}

func New(cfg Config) *App {
	return &App{cfg: cfg, log: logging.WithComponent("app")}
}

// Startup opens the settings database under the data directory and restores
// the project and token from the last session.
func (a *App) Startup(ctx context.Context) error {
	a.ctx = ctx

	dataDir := a.cfg.DataDir
	if dataDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			configDir = "."
		}
		dataDir = filepath.Join(configDir, appDirName)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("bindings: create data dir: %w", err)
	}

	db, err := store.NewSQLiteDB(filepath.Join(dataDir, dbFileName))
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return err
	}

	apiURL := a.cfg.APIURL
	if apiURL == "" {
		if v, ok, _ := db.Setting(store.SettingAPIURL); ok {
			apiURL = v
		}
	}
	projectID := a.cfg.ProjectID
	if projectID == "" {
		if v, ok, _ := db.Setting(store.SettingProjectID); ok {
			projectID = v
		}
	}

	tokens := credentials.NewTokenStore(a.cfg.KeyringService, filepath.Join(dataDir, fallbackName))
	token := a.cfg.AccessToken
	if token == "" && projectID != "" {
		t, err := tokens.Token(projectID)
		switch {
		case err == nil:
			token = t
		case !errors.Is(err, credentials.ErrNotFound):
			a.log.Warn().Err(err).Msg("could not read stored access token")
		}
	}

	a.mu.Lock()
	a.db = db
	a.tokens = tokens
	a.client = gamesim.NewClient(gamesim.Config{
		BaseURL:     apiURL,
		ProjectID:   projectID,
		AccessToken: token,
		HTTPClient:  a.cfg.HTTPClient,
	})
	a.admin = remoteconfig.NewAdminClient(remoteconfig.AdminConfig{
		BaseURL:     a.cfg.RemoteAdminURL,
		AccessToken: token,
		HTTPClient:  a.cfg.HTTPClient,
	})
	a.resolver = paramtypes.NewResolver(a.admin, projectID)
	a.mu.Unlock()

	a.log.Info().Str("data_dir", dataDir).Str("project", projectID).Bool("token", token != "").Msg("workbench started")
	return nil
}

// Shutdown releases the database and the type resolver.
func (a *App) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolver != nil {
		a.resolver.Close()
		a.resolver = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close settings database")
		}
		a.db = nil
	}
}

var errNotStarted = errors.New("bindings: app not started")

func (a *App) state() (store.DB, *gamesim.Client, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, nil, errNotStarted
	}
	return a.db, a.client, nil
}

// ProjectID returns the active project.
func (a *App) ProjectID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return ""
	}
	return a.client.ProjectID()
}

// SetProject switches the active project and persists it.
func (a *App) SetProject(projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errors.New("bindings: project id is required")
	}
	db, client, err := a.state()
	if err != nil {
		return err
	}
	if err := db.SetSetting(store.SettingProjectID, projectID); err != nil {
		return err
	}
	client.SetProjectID(projectID)

	a.mu.Lock()
	a.resolver.Close()
	a.resolver = paramtypes.NewResolver(a.admin, projectID)
	a.mu.Unlock()

	if token, err := a.tokens.Token(projectID); err == nil {
		a.applyToken(token)
	}
	return nil
}

// SetAPIURL points the client at another Game Simulation deployment.
func (a *App) SetAPIURL(url string) error {
	db, _, err := a.state()
	if err != nil {
		return err
	}
	if err := db.SetSetting(store.SettingAPIURL, strings.TrimSpace(url)); err != nil {
		return err
	}

	a.mu.Lock()
	old := a.client
	a.client = gamesim.NewClient(gamesim.Config{
		BaseURL:     strings.TrimSpace(url),
		ProjectID:   old.ProjectID(),
		AccessToken: old.AccessToken(),
		HTTPClient:  a.cfg.HTTPClient,
	})
	a.mu.Unlock()
	return nil
}

// SetToken stores the access token for the active project and starts using
// it.
func (a *App) SetToken(token string) error {
	if _, _, err := a.state(); err != nil {
		return err
	}
	projectID := a.ProjectID()
	if projectID == "" {
		return errors.New("bindings: set a project before the access token")
	}
	if err := a.tokens.SetToken(projectID, strings.TrimSpace(token)); err != nil {
		return err
	}
	a.applyToken(strings.TrimSpace(token))
	return nil
}

// ClearToken forgets the active project's token.
func (a *App) ClearToken() error {
	if _, _, err := a.state(); err != nil {
		return err
	}
	if err := a.tokens.DeleteToken(a.ProjectID()); err != nil {
		return err
	}
	a.applyToken("")
	return nil
}

func (a *App) applyToken(token string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	a.client.SetAccessToken(token)
	a.admin.SetAccessToken(token)
}

// HasToken reports whether requests will be authenticated.
func (a *App) HasToken() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client != nil && a.client.AccessToken() != ""
}
