package ticketing

const (
	OperationConnect       = "connect"
	OperationAuthenticate  = "authenticate"
	OperationDisconnect    = "disconnect"
	OperationCameraStart   = "camera_start"
	OperationCameraCapture = "camera_capture"
	OperationCameraStop    = "camera_stop"
	OperationQRScan        = "qr_scan"
	OperationQRManual      = "qr_manual"
	OperationVerify        = "verify"
	OperationMint          = "mint"

	OperationStatusOK    = "ok"
	OperationStatusError = "error"

	// Durable client storage keys, cleared together on disconnect.
	StorageKeyWalletAddress = "walletAddress"
	StorageKeyIsOrganizer   = "isOrganizer"
	StorageKeySessionToken  = "sessionToken"
	StorageKeyTokenExpires  = "sessionTokenExpires"

	qrFieldTokenID     = "token_id"
	qrFieldEventID     = "event_id"
	qrFieldMetadataURI = "metadata_uri"

	confidenceUnknown = "unknown"
)
