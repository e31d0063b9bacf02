package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"relsync/internal/config"
	"relsync/internal/database"
	"relsync/internal/encryption"
	"relsync/internal/fs"
	"relsync/internal/release"
	"relsync/internal/staging"
	"relsync/internal/store"
	"relsync/internal/transport"
)

// ReleaseApp is the application layer between the CLI and the release
// package. It builds every dependency from config, exposes the commands as
// methods, and records each state-changing command in the operation history.
type ReleaseApp struct {
	cfg        *config.Config
	db         *database.SQLiteDatabase
	store      release.Store
	fsmgr      release.FilesystemManager
	encryptor  release.Encryptor
	transport  release.Transport
	openArea   release.InstallAreaFactory
	logger     release.Logger
	op         *trackedOperation
	logFile    *os.File
	passphrase func() (string, error)
}

// Option customizes a ReleaseApp.
type Option func(*options)

type options struct {
	transport  release.Transport
	console    io.Writer
	clock      release.Clock
	ids        release.IDGenerator
	passphrase func() (string, error)
	openArea   release.InstallAreaFactory
}

// WithTransport replaces the default http/https/file transport.
func WithTransport(t release.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithConsole sets where Info and above log lines are echoed (default stderr).
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithClock sets the clock used for history timestamps.
func WithClock(c release.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the generator for per-invocation log ids.
func WithIDGenerator(g release.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithPassphrase sets how the private key passphrase is obtained when a
// sealed release must be opened.
func WithPassphrase(fn func() (string, error)) Option {
	return func(o *options) { o.passphrase = fn }
}

// WithInstallArea replaces the filesystem install area.
func WithInstallArea(f release.InstallAreaFactory) Option {
	return func(o *options) { o.openArea = f }
}

// NewReleaseApp creates a fully wired ReleaseApp from cfg. operation names
// the CLI command being run and params its arguments, both kept in the
// history if the command changes state. The caller must call Close.
func NewReleaseApp(ctx context.Context, cfg *config.Config, operation string, params map[string]string, opts ...Option) (*ReleaseApp, error) {
	o := options{
		console: os.Stderr,
		clock:   release.RealClock{},
		ids:     release.UUIDGenerator{},
		passphrase: func() (string, error) {
			if p, ok := PassphraseFromEnv(); ok {
				return p, nil
			}
			return "", fmt.Errorf("passphrase required: set %s", EnvPassphrase)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = transport.NewDefault(nil, cfg.Updater.UserAgent)
	}
	if o.openArea == nil {
		o.openArea = staging.Factory()
	}

	st, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, o.clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	logger, logFile, err := newLogger(cfg.LogDir, o.ids.New(), o.console)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &ReleaseApp{
		cfg:        cfg,
		db:         db,
		store:      st,
		fsmgr:      fs.NewOSFilesystemManager(cfg.Packer.Ignore),
		encryptor:  enc,
		transport:  o.transport,
		openArea:   o.openArea,
		logger:     &slogAdapter{l: logger},
		op:         newTrackedOperation(operation, params),
		logFile:    logFile,
		passphrase: o.passphrase,
	}, nil
}

// persistOperation saves the operation so it appears in the history. Only
// commands that change state call it.
func (a *ReleaseApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateOperation(a.op.Name, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// InitStore checks that the configured store is reachable.
func (a *ReleaseApp) InitStore(ctx context.Context) error {
	return a.store.ValidateSetup(ctx)
}

// InitKeys generates the key pair used by sealed codecs and returns the
// public key when the encryptor exposes one.
func (a *ReleaseApp) InitKeys(passphrase string) (string, error) {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return "", err
	}
	if age, ok := a.encryptor.(*encryption.AgeEncryptor); ok {
		return age.PublicKey()
	}
	return "", nil
}

// History returns the most recent operations, newest first.
func (a *ReleaseApp) History(limit int) ([]*release.Operation, error) {
	return a.db.ListOperations(limit)
}

// BackupDatabase writes a copy of the record database to dest.
func (a *ReleaseApp) BackupDatabase(dest string) error {
	return a.db.BackupTo(dest)
}

// Close finishes the operation record when one was persisted and releases
// the database and log file.
func (a *ReleaseApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
