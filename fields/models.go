package fields

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an application account. Tasks are assigned to users by email.
type User struct {
	ID        int64     `gorm:"primaryKey" db:"id" json:"id"`
	Email     string    `gorm:"uniqueIndex" db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (User) TableName() string { return "user" }

type Company struct {
	ComID          int64     `gorm:"column:com_id;primaryKey" db:"com_id" json:"com_id"`
	ComName        string    `gorm:"column:com_name" db:"com_name" json:"com_name"`
	ComCode        string    `gorm:"column:com_code;uniqueIndex" db:"com_code" json:"com_code"`
	ComDescription *string   `gorm:"column:com_description" db:"com_description" json:"com_description"`
	ComWebsite     *string   `gorm:"column:com_website" db:"com_website" json:"com_website"`
	ComIsActive    bool      `gorm:"column:com_is_active;default:true" db:"com_is_active" json:"com_is_active"`
	ComCreatedAt   time.Time `gorm:"column:com_created_at;autoCreateTime" db:"com_created_at" json:"com_created_at"`
	ComUpdatedAt   time.Time `gorm:"column:com_updated_at;autoUpdateTime" db:"com_updated_at" json:"com_updated_at"`
}

func (Company) TableName() string { return "dt_company_com" }

type UserDetail struct {
	UserDetailID int64     `gorm:"column:user_detail_id;primaryKey" json:"user_detail_id"`
	UserID       int64     `gorm:"column:user_id" json:"user_id"`
	ComID        int64     `gorm:"column:com_id" json:"com_id"`
	UserRole     string    `gorm:"column:user_role;default:member" json:"user_role"`
	IsActive     bool      `gorm:"column:is_active;default:true" json:"is_active"`
	JoinedAt     time.Time `gorm:"column:joined_at;autoCreateTime" json:"joined_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	User         *User     `gorm:"foreignKey:UserID" json:"-"`
}

func (UserDetail) TableName() string { return "dt_user_detail" }

const (
	SyncActive   = "active"
	SyncError    = "error"
	SyncDisabled = "disabled"
)

// NotionAccount links a company to a Notion integration. Token holds the encoded secret.
type NotionAccount struct {
	NotionID            int64      `gorm:"column:notion_id;primaryKey" json:"notion_id"`
	ComID               int64      `gorm:"column:com_id" json:"com_id"`
	NotionToken         string     `gorm:"column:notion_token" json:"-"`
	NotionParentPageID  string     `gorm:"column:notion_parent_page_id" json:"notion_parent_page_id"`
	TasksDatabaseID     *string    `gorm:"column:tasks_database_id" json:"tasks_database_id"`
	TestcasesDatabaseID *string    `gorm:"column:testcases_database_id" json:"testcases_database_id"`
	WorkspaceName       *string    `gorm:"column:workspace_name" json:"workspace_name"`
	IntegrationName     string     `gorm:"column:integration_name;default:AI Business Automation" json:"integration_name"`
	IsActive            bool       `gorm:"column:is_active;default:true" json:"is_active"`
	LastSyncAt          *time.Time `gorm:"column:last_sync_at" json:"last_sync_at"`
	SyncStatus          string     `gorm:"column:sync_status;default:active" json:"sync_status"`
	ErrorMessage        *string    `gorm:"column:error_message" json:"error_message"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (NotionAccount) TableName() string { return "dt_notion_account" }

type Priority struct {
	PriorityID       int64     `gorm:"column:priority_id;primaryKey" db:"priority_id" json:"priority_id"`
	PriorityCode     string    `gorm:"column:priority_code" db:"priority_code" json:"priority_code"`
	PriorityName     string    `gorm:"column:priority_name" db:"priority_name" json:"priority_name"`
	PriorityLevel    int       `gorm:"column:priority_level" db:"priority_level" json:"priority_level"`
	PriorityColor    string    `gorm:"column:priority_color" db:"priority_color" json:"priority_color"`
	PriorityIsActive bool      `gorm:"column:priority_is_active" db:"priority_is_active" json:"priority_is_active"`
	CreatedAt        time.Time `gorm:"column:priority_created_at;autoCreateTime" db:"priority_created_at" json:"-"`
}

func (Priority) TableName() string { return "lt_priority" }

type GeneralStatus struct {
	StatusID          int64     `gorm:"column:status_id;primaryKey" db:"status_id" json:"status_id"`
	StatusCode        string    `gorm:"column:status_code" db:"status_code" json:"status_code"`
	StatusName        string    `gorm:"column:status_name" db:"status_name" json:"status_name"`
	StatusDescription *string   `gorm:"column:status_description" db:"status_description" json:"status_description"`
	StatusCategory    string    `gorm:"column:status_category" db:"status_category" json:"status_category"`
	StatusIsActive    bool      `gorm:"column:status_is_active" db:"status_is_active" json:"status_is_active"`
	CreatedAt         time.Time `gorm:"column:status_created_at;autoCreateTime" db:"status_created_at" json:"-"`
}

func (GeneralStatus) TableName() string { return "lt_general_status" }

type Category struct {
	CtgryID          int64     `gorm:"column:ctgry_id;primaryKey" db:"ctgry_id" json:"ctgry_id"`
	CtgryCode        string    `gorm:"column:ctgry_code" db:"ctgry_code" json:"ctgry_code"`
	CtgryName        string    `gorm:"column:ctgry_name" db:"ctgry_name" json:"ctgry_name"`
	CtgryDescription *string   `gorm:"column:ctgry_description" db:"ctgry_description" json:"ctgry_description"`
	CtgryIsActive    bool      `gorm:"column:ctgry_is_active" db:"ctgry_is_active" json:"ctgry_is_active"`
	CreatedAt        time.Time `gorm:"column:ctgry_created_at;autoCreateTime" db:"ctgry_created_at" json:"-"`
}

func (Category) TableName() string { return "lt_category_ctgry" }

type Role struct {
	RoleID          int64   `gorm:"column:role_id;primaryKey" db:"role_id" json:"role_id"`
	RoleCode        string  `gorm:"column:role_code" db:"role_code" json:"role_code"`
	RoleName        string  `gorm:"column:role_name" db:"role_name" json:"role_name"`
	RoleDescription *string `gorm:"column:role_description" db:"role_description" json:"role_description"`
	RoleIsActive    bool    `gorm:"column:role_is_active" db:"role_is_active" json:"role_is_active"`
}

func (Role) TableName() string { return "lt_role" }

type UserStory struct {
	UserStoryID              int64     `gorm:"column:user_story_id;primaryKey" json:"user_story_id"`
	Title                    string    `gorm:"column:user_story_title" json:"user_story_title"`
	Content                  string    `gorm:"column:user_story_content" json:"user_story_content"`
	ComID                    int64     `gorm:"column:com_id" json:"com_id"`
	NotionTaskPageID         *string   `gorm:"column:notion_task_page_id" json:"notion_task_page_id"`
	NotionTestcasePageID     *string   `gorm:"column:notion_testcase_page_id" json:"notion_testcase_page_id"`
	NotionTaskDatabaseID     *string   `gorm:"column:notion_task_database_id" json:"notion_task_database_id"`
	NotionTestcaseDatabaseID *string   `gorm:"column:notion_testcase_database_id" json:"notion_testcase_database_id"`
	CreatedAt                time.Time `gorm:"column:user_story_created_at;autoCreateTime" json:"user_story_created_at"`
	UpdatedAt                time.Time `gorm:"column:user_story_updated_at;autoUpdateTime" json:"user_story_updated_at"`
}

func (UserStory) TableName() string { return "dt_user_story" }

type TestCase struct {
	TestCaseID       int64      `gorm:"column:test_case_id;primaryKey" json:"test_case_id"`
	UserStoryID      int64      `gorm:"column:user_story_id" json:"user_story_id"`
	Title            string     `gorm:"column:test_case_title" json:"test_case_title"`
	Description      string     `gorm:"column:test_case_description" json:"test_case_description"`
	Steps            StringList `gorm:"column:test_case_steps" json:"test_case_steps"`
	ExpectedResult   string     `gorm:"column:test_case_expected_result" json:"test_case_expected_result"`
	PriorityID       *int64     `gorm:"column:test_case_priority_id" json:"-"`
	TypeID           *int64     `gorm:"column:test_case_type_id" json:"-"`
	StatusID         *int64     `gorm:"column:test_case_status_id" json:"-"`
	NotionPageID     *string    `gorm:"column:notion_page_id" json:"notion_page_id"`
	NotionSyncedAt   *time.Time `gorm:"column:notion_synced_at" json:"notion_synced_at"`
	NotionSyncStatus string     `gorm:"column:notion_sync_status;default:pending" json:"notion_sync_status"`
	CreatedAt        time.Time  `gorm:"column:test_case_created_at;autoCreateTime" json:"test_case_created_at"`
	UpdatedAt        time.Time  `gorm:"column:test_case_updated_at;autoUpdateTime" json:"test_case_updated_at"`

	Priority *Priority      `gorm:"foreignKey:PriorityID;references:PriorityID" json:"priority,omitempty"`
	Type     *Category      `gorm:"foreignKey:TypeID;references:CtgryID" json:"type,omitempty"`
	Status   *GeneralStatus `gorm:"foreignKey:StatusID;references:StatusID" json:"status,omitempty"`
}

func (TestCase) TableName() string { return "dt_test_case" }

const (
	NotionPending = "pending"
	NotionSynced  = "synced"
	NotionFailed  = "failed"
	NotionSkip    = "skip"
)

type Task struct {
	TaskID           int64      `gorm:"column:task_id;primaryKey" json:"task_id"`
	UserStoryID      int64      `gorm:"column:user_story_id" json:"user_story_id"`
	Title            string     `gorm:"column:task_title" json:"task_title"`
	Description      string     `gorm:"column:task_description" json:"task_description"`
	AssigneeUserID   *int64     `gorm:"column:task_assignee_user_id" json:"-"`
	PriorityID       *int64     `gorm:"column:task_priority_id" json:"-"`
	StatusID         *int64     `gorm:"column:task_status_id" json:"-"`
	EstimatedHours   float64    `gorm:"column:task_estimated_hours" json:"task_estimated_hours"`
	Labels           string     `gorm:"column:task_labels" json:"task_labels"`
	DueDate          *time.Time `gorm:"column:task_due_date" json:"task_due_date"`
	NotionPageID     *string    `gorm:"column:notion_page_id" json:"notion_page_id"`
	NotionSyncedAt   *time.Time `gorm:"column:notion_synced_at" json:"notion_synced_at"`
	NotionSyncStatus string     `gorm:"column:notion_sync_status;default:pending" json:"notion_sync_status"`
	CreatedAt        time.Time  `gorm:"column:task_created_at;autoCreateTime" json:"task_created_at"`
	UpdatedAt        time.Time  `gorm:"column:task_updated_at;autoUpdateTime" json:"task_updated_at"`

	Assignee *User          `gorm:"foreignKey:AssigneeUserID;references:ID" json:"assignee,omitempty"`
	Priority *Priority      `gorm:"foreignKey:PriorityID;references:PriorityID" json:"priority,omitempty"`
	Status   *GeneralStatus `gorm:"foreignKey:StatusID;references:StatusID" json:"status,omitempty"`
}

func (Task) TableName() string { return "dt_task" }

type GenerationLog struct {
	GenerationLogID int64     `gorm:"column:generation_log_id;primaryKey" json:"generation_log_id"`
	UserStoryID     int64     `gorm:"column:user_story_id" json:"user_story_id"`
	TypeID          *int64    `gorm:"column:generation_log_type_id" json:"-"`
	StatusID        *int64    `gorm:"column:generation_log_status_id" json:"-"`
	ItemsGenerated  int       `gorm:"column:generation_log_items_generated" json:"items_generated"`
	ErrorMessage    *string   `gorm:"column:generation_log_error_message" json:"error_message"`
	ProcessingTime  *float64  `gorm:"column:generation_log_processing_time" json:"processing_time"`
	CreatedAt       time.Time `gorm:"column:generation_log_created_at;autoCreateTime" json:"created_at"`
}

func (GenerationLog) TableName() string { return "dt_generation_log" }

const (
	CSVSales     = "sales"
	CSVInventory = "inventory"

	UploadUploaded  = "uploaded"
	UploadValidated = "validated"
	UploadInvalid   = "invalid"
	UploadProcessed = "processed"
	UploadFailed    = "failed"
)

// CSVUpload tracks one uploaded file through uploaded -> validated|invalid -> processed|failed.
type CSVUpload struct {
	ID               int64      `db:"id" json:"id"`
	UserID           *int64     `db:"user_id" json:"user_id"`
	CSVType          string     `db:"csv_type" json:"csv_type"`
	CSVPath          string     `db:"csv_path" json:"csv_path"`
	OriginalFilename string     `db:"original_filename" json:"original_filename"`
	RowCount         *int       `db:"row_count" json:"row_count"`
	SizeBytes        *int64     `db:"size_bytes" json:"size_bytes"`
	ContentSHA256    *string    `db:"content_sha256" json:"content_sha256"`
	DetectedColumns  *string    `db:"detected_columns" json:"detected_columns"`
	Status           string     `db:"status" json:"status"`
	ErrorMsg         *string    `db:"error_msg" json:"error_msg"`
	BatchID          *string    `db:"batch_id" json:"batch_id"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ValidatedAt      *time.Time `db:"validated_at" json:"validated_at"`
	ProcessedAt      *time.Time `db:"processed_at" json:"processed_at"`
}

// Ready reports whether metrics can be computed from the upload.
func (u CSVUpload) Ready() bool {
	return u.Status == UploadValidated || u.Status == UploadProcessed
}

type Customer struct {
	ID                int64           `gorm:"primaryKey" db:"id" json:"id"`
	CustomerID        string          `gorm:"column:customer_id" db:"customer_id" json:"customer_id"`
	Name              string          `db:"name" json:"name"`
	Email             *string         `db:"email" json:"email"`
	Phone             *string         `db:"phone" json:"phone"`
	Address           *string         `db:"address" json:"address"`
	FirstPurchaseDate *time.Time      `db:"first_purchase_date" json:"first_purchase_date"`
	LastPurchaseDate  *time.Time      `db:"last_purchase_date" json:"last_purchase_date"`
	TotalOrders       int             `db:"total_orders" json:"total_orders"`
	TotalSpent        decimal.Decimal `gorm:"type:numeric(10,2)" db:"total_spent" json:"total_spent"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

func (Customer) TableName() string { return "dt_customer" }

// HasEmail reports whether the customer can receive campaign mail.
func (c Customer) HasEmail() bool {
	return c.Email != nil && *c.Email != ""
}

type CustomerPurchase struct {
	ID          int64           `gorm:"primaryKey" db:"id" json:"id"`
	CustomerID  string          `db:"customer_id" json:"customer_id"`
	InvoiceID   string          `db:"invoice_id" json:"invoice_id"`
	InvoiceDate time.Time       `db:"invoice_date" json:"invoice_date"`
	ItemID      string          `db:"item_id" json:"item_id"`
	ItemName    string          `db:"item_name" json:"item_name"`
	Qty         int             `db:"qty" json:"qty"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Revenue     decimal.Decimal `db:"revenue" json:"revenue"`
	CSVUploadID *int64          `gorm:"column:csv_upload_id" db:"csv_upload_id" json:"csv_upload_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

func (CustomerPurchase) TableName() string { return "dt_customer_purchase" }

const (
	CampaignLoyalty   = "loyalty"
	CampaignPromotion = "promotion"
	CampaignWinback   = "winback"
	CampaignEvent     = "event"

	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSent      = "sent"
	CampaignCompleted = "completed"

	SendPending   = "pending"
	SendSent      = "sent"
	SendDelivered = "delivered"
	SendBounced   = "bounced"
	SendOpened    = "opened"
	SendClicked   = "clicked"
	SendFailed    = "failed"
)

type EmailCampaign struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	Name          string     `json:"name"`
	Subject       string     `json:"subject"`
	Template      string     `json:"template"`
	CampaignType  string     `json:"campaign_type"`
	Status        string     `gorm:"default:draft" json:"status"`
	TargetSegment *string    `json:"target_segment"`
	ProductFilter *string    `json:"product_filter"`
	CreatedAt     time.Time  `json:"created_at"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	SentAt        *time.Time `json:"sent_at"`

	Sends []EmailSend `gorm:"foreignKey:CampaignID" json:"-"`
}

func (EmailCampaign) TableName() string { return "dt_email_campaign" }

type EmailSend struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	CampaignID   int64      `json:"campaign_id"`
	CustomerID   string     `json:"customer_id"`
	Email        string     `json:"email"`
	Status       string     `gorm:"default:pending" json:"status"`
	SentAt       *time.Time `json:"sent_at"`
	DeliveredAt  *time.Time `json:"delivered_at"`
	OpenedAt     *time.Time `json:"opened_at"`
	ClickedAt    *time.Time `json:"clicked_at"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`

	Customer *Customer `gorm:"foreignKey:CustomerID;references:CustomerID" json:"-"`
}

func (EmailSend) TableName() string { return "dt_email_send" }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
