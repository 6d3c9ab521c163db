package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 30 << 20 // 30MB，需容納 25MB 附件上傳
	DefaultMaxMultipartMemory = 10 << 20 // 10MB
	DefaultRequestTimeout     = 30       // 秒
)

// 分頁相關常數
const (
	DefaultPageSize        = 20
	DefaultMaxPageSize     = 100
	DefaultHistoryPageSize = 50
	MinPageSize            = 1
)

// 群組相關常數
const (
	DefaultMaxGroupMembers    = 1000
	DefaultMaxGroupNameLength = 100
	MinGroupNameLength        = 1
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 10000
	MessageChannelBuffer    = 10
)

// 聯絡人相關常數
const (
	DefaultCountryPrefix          = "+84"
	PhoneSubscriberDigits         = 9 // 國碼之後的固定位數
	DefaultContactNamePlaceholder = "Unknown"
	DefaultMaxSyncBatchSize       = 5000
)

// 附件相關常數
const (
	DefaultMaxUploadBytes = 25 << 20 // 25MB，單一請求所有欄位總和
	DefaultMaxAvatarBytes = 5 << 20  // 5MB，群組頭像上限
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultMessageRateLimit     = 30
	DefaultGroupCreateRateLimit = 10
	DefaultSSERateLimit         = 5
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// SSE 連接相關常數
const (
	DefaultSSEMaxConnectionsPerIP   = 3
	DefaultSSEMaxTotalConnections   = 1000
	DefaultSSEMinConnectionInterval = 10 // 秒
	DefaultSSEHeartbeatInterval     = 15 // 秒
	SSEConnectionCleanupIntervalMin = 10 // 分鐘
)

// MongoDB 查詢相關常數
const (
	DefaultMongoQueryLimit = 20
	MaxMongoQueryLimit     = 100
	MaxMongoHistoryLimit   = 50
	DefaultUserGroupsLimit = 100
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)

// 事件頻道相關常數
const (
	// ConversationChannelPrefix 會話事件的 Redis 頻道前綴
	ConversationChannelPrefix = "chat:conversation:"
)
