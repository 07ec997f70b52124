package deals

import "time"

// SyncType identifies what triggered a synchronization run.
type SyncType string

const (
	SyncTypeManual    SyncType = "manual"
	SyncTypeAutomatic SyncType = "automatic"
	SyncTypeScheduled SyncType = "scheduled"
)

// SyncStatus records how a synchronization run ended.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusPartial SyncStatus = "partial"
)

const (
	maxGameNameLength = 200
	truncationSuffix  = "..."
)

// Deal is a locally mirrored catalog deal, keyed by the upstream deal id.
// Re-syncing the same external id updates the row in place.
type Deal struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ExternalID  string    `gorm:"column:external_id;uniqueIndex;size:190;not null" json:"external_id"`
	GameName    string    `gorm:"column:game_name;size:200;not null" json:"game_name"`
	ImageURL    string    `gorm:"column:image_url;size:500" json:"image_url"`
	SalePrice   float64   `gorm:"column:sale_price;not null" json:"sale_price"`
	NormalPrice float64   `gorm:"column:normal_price;not null" json:"normal_price"`
	DealRating  float64   `gorm:"column:deal_rating;not null;default:0" json:"deal_rating"`
	Saving      float64   `gorm:"column:saving;not null;default:0" json:"saving"`
	StoreID     *string   `gorm:"column:store_id;size:32;index" json:"store_id"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Deal) TableName() string {
	return "deals"
}

// Store mirrors an upstream store. Only allow-listed store ids are persisted
// by the primary sync path; the deal reconciler may create placeholders for
// stores referenced before their own sync ran.
type Store struct {
	StoreID   string    `gorm:"column:store_id;primaryKey;size:32;not null" json:"store_id"`
	StoreName string    `gorm:"column:store_name;size:100;not null" json:"store_name"`
	LogoURL   string    `gorm:"column:logo_url;size:500" json:"logo_url"`
	BannerURL string    `gorm:"column:banner_url;size:500" json:"banner_url"`
	IconURL   string    `gorm:"column:icon_url;size:500" json:"icon_url"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Store) TableName() string {
	return "stores"
}

// SyncLog is the append-only audit record for synchronization runs. Rows are
// never mutated after creation and are read newest-first.
type SyncLog struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SyncType     SyncType   `gorm:"column:sync_type;size:20;not null" json:"sync_type"`
	Status       SyncStatus `gorm:"column:status;size:20;not null" json:"status"`
	DealsCreated int        `gorm:"column:deals_created;not null;default:0" json:"deals_created"`
	DealsUpdated int        `gorm:"column:deals_updated;not null;default:0" json:"deals_updated"`
	ErrorMessage string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (SyncLog) TableName() string {
	return "sync_logs"
}
