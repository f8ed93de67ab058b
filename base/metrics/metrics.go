package metrics

const (
	ClientSamplesCollectedH = "The total number of time samples collected successfully"
	ClientSamplesCollectedN = "serverdate_client_samples_collected"
	ClientSamplesFailedH    = "The total number of time samples that failed in transport"
	ClientSamplesFailedN    = "serverdate_client_samples_failed"
	ClientSamplesInvalidH   = "The total number of time samples with an unparseable server time"
	ClientSamplesInvalidN   = "serverdate_client_samples_invalid"

	ServerReqsServedH       = "The total number of time requests served"
	ServerReqsServedN       = "serverdate_server_reqs_served"
	ServerReqsServedMillisH = "The total number of time requests served with millisecond bodies"
	ServerReqsServedMillisN = "serverdate_server_reqs_served_millis"
	ServerReqsRejectedH     = "The total number of time requests rejected"
	ServerReqsRejectedN     = "serverdate_server_reqs_rejected"

	SyncOffsetH    = "The offset currently applied to the local clock [s]"
	SyncOffsetN    = "serverdate_sync_offset"
	SyncTargetH    = "The offset the applied offset is amortized towards [s]"
	SyncTargetN    = "serverdate_sync_target"
	SyncPrecisionH = "The current precision of the synchronized clock [s]"
	SyncPrecisionN = "serverdate_sync_precision"
	SyncIntervalH  = "The current delay between periodic synchronizations [s]"
	SyncIntervalN  = "serverdate_sync_interval"
	SyncSucceededH = "The total number of synchronizations that succeeded"
	SyncSucceededN = "serverdate_sync_succeeded"
	SyncFailedH    = "The total number of synchronizations that failed or timed out"
	SyncFailedN    = "serverdate_sync_failed"
)
