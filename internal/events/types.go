// Package events provides the in-process event bus: a closed set of typed
// lifecycle events fanned out synchronously to subscribers. Publishing is
// fire-and-forget; a subscriber failure never propagates to the producer.
package events

// EventType identifies one of the enumerated system lifecycle markers.
type EventType string

const (
	SyncStart    EventType = "SYNC_START"
	SyncComplete EventType = "SYNC_COMPLETE"

	APICallStart EventType = "API_CALL_START"
	APICallEnd   EventType = "API_CALL_END"

	ProcessingStart EventType = "PROCESSING_START"
	ProcessingEnd   EventType = "PROCESSING_END"

	WebRequest EventType = "WEB_REQUEST"

	TradeExecuted EventType = "TRADE_EXECUTED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
	ErrorCleared  EventType = "ERROR_CLEARED"

	MaintenanceStart    EventType = "MAINTENANCE_START"
	MaintenanceComplete EventType = "MAINTENANCE_COMPLETE"

	BackupStart    EventType = "BACKUP_START"
	BackupComplete EventType = "BACKUP_COMPLETE"

	CleanupStart    EventType = "CLEANUP_START"
	CleanupComplete EventType = "CLEANUP_COMPLETE"

	IntegrityCheckStart    EventType = "INTEGRITY_CHECK_START"
	IntegrityCheckComplete EventType = "INTEGRITY_CHECK_COMPLETE"

	JobStart    EventType = "JOB_START"
	JobComplete EventType = "JOB_COMPLETE"

	ScoreRefreshStart    EventType = "SCORE_REFRESH_START"
	ScoreRefreshComplete EventType = "SCORE_REFRESH_COMPLETE"

	RebalanceStart    EventType = "REBALANCE_START"
	RebalanceComplete EventType = "REBALANCE_COMPLETE"

	CashFlowSyncStart    EventType = "CASH_FLOW_SYNC_START"
	CashFlowSyncComplete EventType = "CASH_FLOW_SYNC_COMPLETE"

	TradeSyncStart    EventType = "TRADE_SYNC_START"
	TradeSyncComplete EventType = "TRADE_SYNC_COMPLETE"

	APIError      EventType = "API_ERROR"
	DatabaseError EventType = "DATABASE_ERROR"
	BrokerError   EventType = "BROKER_ERROR"

	DisplayStateChanged EventType = "DISPLAY_STATE_CHANGED"

	PlannerBatchComplete      EventType = "PLANNER_BATCH_COMPLETE"
	PlannerSequencesGenerated EventType = "PLANNER_SEQUENCES_GENERATED"
	RecommendationsInvalidated EventType = "RECOMMENDATIONS_INVALIDATED"
)
