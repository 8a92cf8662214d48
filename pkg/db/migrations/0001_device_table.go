package migrations

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// FS holds the migration sources goose reads alongside the registered Go migrations.
//
//go:embed 0*.go
var FS embed.FS

func init() {
	goose.AddMigrationContext(upDeviceTest, downDeviceTest)
}

// DeviceTest is the row shape the uploader writes: one row per manifest object.
type DeviceTest struct {
	ID          int64          `gorm:"type:bigserial;primaryKey"`
	FolderName  string         `gorm:"type:text;not null;index"`
	DataType    string         `gorm:"type:text;not null;default:device_test"`
	RawData     datatypes.JSON `gorm:"type:jsonb;not null"`
	DeviceID    *string        `gorm:"type:text;index"`
	DeviceName  *string        `gorm:"type:text"`
	DeviceType  *string        `gorm:"type:text"`
	TestResults datatypes.JSON `gorm:"type:jsonb"`
	TestDate    *string        `gorm:"type:text"`
	TestStatus  string         `gorm:"type:text;not null;default:pending"`
	UploadBatch *string        `gorm:"type:text"`
	Notes       *string        `gorm:"type:text"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	Images      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (DeviceTest) TableName() string { return "device_test" }

func openGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upDeviceTest(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(&DeviceTest{})
}

func downDeviceTest(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&DeviceTest{})
}
