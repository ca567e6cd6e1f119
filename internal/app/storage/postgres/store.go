// Package postgres implements the storage interfaces backed by PostgreSQL.
// The schema is managed through embedded migrations applied on Open.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/thermolink/sensord/internal/app/domain/device"
	"github.com/thermolink/sensord/internal/app/domain/history"
	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.DeviceStore = (*Store)(nil)
var _ storage.StatusStore = (*Store)(nil)
var _ storage.HistoryStore = (*Store)(nil)

// Open connects to the database, verifies the connection and applies pending
// migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle without touching the schema.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- DeviceStore ------------------------------------------------------------

func (s *Store) CreateDevice(ctx context.Context, dev device.Device) (device.Device, error) {
	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	dev.CreatedAt = now
	dev.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO devices (id, name, address, cloud_id, use_broadcast,
			scan_window_seconds, refresh_period_seconds, hide_temperature,
			hide_humidity, history_enabled, created_at, updated_at)
		VALUES (:id, :name, :address, :cloud_id, :use_broadcast,
			:scan_window_seconds, :refresh_period_seconds, :hide_temperature,
			:hide_humidity, :history_enabled, :created_at, :updated_at)
	`, deviceRowFrom(dev))
	if err != nil {
		return device.Device{}, err
	}
	return dev, nil
}

func (s *Store) UpdateDevice(ctx context.Context, dev device.Device) (device.Device, error) {
	existing, err := s.GetDevice(ctx, dev.ID)
	if err != nil {
		return device.Device{}, err
	}

	dev.CreatedAt = existing.CreatedAt
	dev.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE devices
		SET name = :name, address = :address, cloud_id = :cloud_id,
			use_broadcast = :use_broadcast,
			scan_window_seconds = :scan_window_seconds,
			refresh_period_seconds = :refresh_period_seconds,
			hide_temperature = :hide_temperature,
			hide_humidity = :hide_humidity,
			history_enabled = :history_enabled,
			updated_at = :updated_at
		WHERE id = :id
	`, deviceRowFrom(dev))
	if err != nil {
		return device.Device{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return device.Device{}, fmt.Errorf("device %s not found", dev.ID)
	}
	return dev, nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (device.Device, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, address, cloud_id, use_broadcast, scan_window_seconds,
			refresh_period_seconds, hide_temperature, hide_humidity,
			history_enabled, created_at, updated_at
		FROM devices
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Device{}, fmt.Errorf("device %s not found", id)
	}
	if err != nil {
		return device.Device{}, err
	}
	return row.toDevice(), nil
}

func (s *Store) ListDevices(ctx context.Context) ([]device.Device, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, address, cloud_id, use_broadcast, scan_window_seconds,
			refresh_period_seconds, hide_temperature, hide_humidity,
			history_enabled, created_at, updated_at
		FROM devices
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}

	result := make([]device.Device, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDevice())
	}
	return result, nil
}

// DeleteDevice removes the device; statuses and samples cascade with it.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM devices WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("device %s not found", id)
	}
	return nil
}

// --- StatusStore ------------------------------------------------------------

func (s *Store) SetStatus(ctx context.Context, st reading.Status) error {
	if st.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO device_statuses (device_id, temperature_c, humidity_pct,
			battery_pct, low_battery, fault, transport, sampled_at, updated_at)
		VALUES (:device_id, :temperature_c, :humidity_pct, :battery_pct,
			:low_battery, :fault, :transport, :sampled_at, :updated_at)
		ON CONFLICT (device_id) DO UPDATE SET
			temperature_c = EXCLUDED.temperature_c,
			humidity_pct = EXCLUDED.humidity_pct,
			battery_pct = EXCLUDED.battery_pct,
			low_battery = EXCLUDED.low_battery,
			fault = EXCLUDED.fault,
			transport = EXCLUDED.transport,
			sampled_at = EXCLUDED.sampled_at,
			updated_at = EXCLUDED.updated_at
	`, statusRowFrom(st))
	return err
}

func (s *Store) GetStatus(ctx context.Context, deviceID string) (reading.Status, error) {
	var row statusRow
	err := s.db.GetContext(ctx, &row, `
		SELECT device_id, temperature_c, humidity_pct, battery_pct, low_battery,
			fault, transport, sampled_at, updated_at
		FROM device_statuses
		WHERE device_id = $1
	`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return reading.Status{}, fmt.Errorf("no status for device %s", deviceID)
	}
	if err != nil {
		return reading.Status{}, err
	}
	return row.toStatus(), nil
}

func (s *Store) ListStatuses(ctx context.Context) ([]reading.Status, error) {
	var rows []statusRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT device_id, temperature_c, humidity_pct, battery_pct, low_battery,
			fault, transport, sampled_at, updated_at
		FROM device_statuses
		ORDER BY device_id
	`)
	if err != nil {
		return nil, err
	}

	result := make([]reading.Status, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toStatus())
	}
	return result, nil
}

// --- HistoryStore -----------------------------------------------------------

func (s *Store) AppendSample(ctx context.Context, sample history.Sample) (history.Sample, error) {
	if sample.DeviceID == "" {
		return history.Sample{}, fmt.Errorf("device id is required")
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sample.SampledAt.IsZero() {
		sample.SampledAt = now
	}
	sample.CreatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO history_samples (id, device_id, temperature_c, humidity_pct,
			sampled_at, created_at)
		VALUES (:id, :device_id, :temperature_c, :humidity_pct, :sampled_at,
			:created_at)
	`, sampleRowFrom(sample))
	if err != nil {
		return history.Sample{}, err
	}
	return sample, nil
}

func (s *Store) ListSamples(ctx context.Context, deviceID string, from, to time.Time) ([]history.Sample, error) {
	var rows []sampleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, device_id, temperature_c, humidity_pct, sampled_at, created_at
		FROM history_samples
		WHERE device_id = $1
			AND ($2::timestamptz IS NULL OR sampled_at >= $2)
			AND ($3::timestamptz IS NULL OR sampled_at <= $3)
		ORDER BY sampled_at
	`, deviceID, toNullTime(from), toNullTime(to))
	if err != nil {
		return nil, err
	}

	result := make([]history.Sample, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toSample())
	}
	return result, nil
}

func (s *Store) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM history_samples WHERE sampled_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- row mapping ------------------------------------------------------------

type deviceRow struct {
	ID                   string    `db:"id"`
	Name                 string    `db:"name"`
	Address              string    `db:"address"`
	CloudID              string    `db:"cloud_id"`
	UseBroadcast         bool      `db:"use_broadcast"`
	ScanWindowSeconds    int       `db:"scan_window_seconds"`
	RefreshPeriodSeconds int       `db:"refresh_period_seconds"`
	HideTemperature      bool      `db:"hide_temperature"`
	HideHumidity         bool      `db:"hide_humidity"`
	HistoryEnabled       bool      `db:"history_enabled"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func deviceRowFrom(dev device.Device) deviceRow {
	return deviceRow{
		ID:                   dev.ID,
		Name:                 dev.Name,
		Address:              dev.Address,
		CloudID:              dev.CloudID,
		UseBroadcast:         dev.UseBroadcast,
		ScanWindowSeconds:    dev.ScanWindowSeconds,
		RefreshPeriodSeconds: dev.RefreshPeriodSeconds,
		HideTemperature:      dev.HideTemperature,
		HideHumidity:         dev.HideHumidity,
		HistoryEnabled:       dev.HistoryEnabled,
		CreatedAt:            dev.CreatedAt,
		UpdatedAt:            dev.UpdatedAt,
	}
}

func (r deviceRow) toDevice() device.Device {
	return device.Device{
		ID:                   r.ID,
		Name:                 r.Name,
		Address:              r.Address,
		CloudID:              r.CloudID,
		UseBroadcast:         r.UseBroadcast,
		ScanWindowSeconds:    r.ScanWindowSeconds,
		RefreshPeriodSeconds: r.RefreshPeriodSeconds,
		HideTemperature:      r.HideTemperature,
		HideHumidity:         r.HideHumidity,
		HistoryEnabled:       r.HistoryEnabled,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

type statusRow struct {
	DeviceID     string       `db:"device_id"`
	TemperatureC *float64     `db:"temperature_c"`
	HumidityPct  *float64     `db:"humidity_pct"`
	BatteryPct   *int         `db:"battery_pct"`
	LowBattery   bool         `db:"low_battery"`
	Fault        string       `db:"fault"`
	Transport    string       `db:"transport"`
	SampledAt    sql.NullTime `db:"sampled_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func statusRowFrom(st reading.Status) statusRow {
	return statusRow{
		DeviceID:     st.DeviceID,
		TemperatureC: st.Reading.TemperatureC,
		HumidityPct:  st.Reading.HumidityPct,
		BatteryPct:   st.Reading.BatteryPct,
		LowBattery:   st.Reading.LowBattery,
		Fault:        st.Fault,
		Transport:    st.Transport,
		SampledAt:    toNullTime(st.Reading.SampledAt),
		UpdatedAt:    st.UpdatedAt,
	}
}

func (r statusRow) toStatus() reading.Status {
	st := reading.Status{
		DeviceID: r.DeviceID,
		Reading: reading.Reading{
			TemperatureC: r.TemperatureC,
			HumidityPct:  r.HumidityPct,
			BatteryPct:   r.BatteryPct,
			LowBattery:   r.LowBattery,
		},
		Fault:     r.Fault,
		Transport: r.Transport,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.SampledAt.Valid {
		st.Reading.SampledAt = r.SampledAt.Time.UTC()
	}
	return st
}

type sampleRow struct {
	ID           string    `db:"id"`
	DeviceID     string    `db:"device_id"`
	TemperatureC *float64  `db:"temperature_c"`
	HumidityPct  *float64  `db:"humidity_pct"`
	SampledAt    time.Time `db:"sampled_at"`
	CreatedAt    time.Time `db:"created_at"`
}

func sampleRowFrom(sample history.Sample) sampleRow {
	return sampleRow{
		ID:           sample.ID,
		DeviceID:     sample.DeviceID,
		TemperatureC: sample.TemperatureC,
		HumidityPct:  sample.HumidityPct,
		SampledAt:    sample.SampledAt,
		CreatedAt:    sample.CreatedAt,
	}
}

func (r sampleRow) toSample() history.Sample {
	return history.Sample{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		TemperatureC: r.TemperatureC,
		HumidityPct:  r.HumidityPct,
		SampledAt:    r.SampledAt.UTC(),
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
