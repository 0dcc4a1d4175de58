package protocol

// Application to message center requests.
const (
	OpLogin           = 1
	OpLogout          = 2
	OpSubmit          = 3
	OpEnquireStatus   = 4
	OpDeliveryRequest = 5
	OpCancel          = 6
	OpSet             = 8
	OpGet             = 9
)

// Message center to application requests.
const (
	OpDeliver        = 20
	OpDeliveryReport = 23
)

const (
	OpAlive        = 40
	OpGeneralError = 98
	OpNack         = 99
)

// ResponseOffset is added to a request code to form its response code.
const ResponseOffset = 50

func ResponseCode(op int) int {
	return op + ResponseOffset
}

const (
	ParamUserIdentity           = 10
	ParamPassword               = 11
	ParamDestinationAddress     = 21
	ParamOriginatingAddress     = 23
	ParamOriginatingIMSI        = 26
	ParamAlphanumericOriginator = 27
	ParamOriginatedVisitedMSC   = 28
	ParamDataCodingScheme       = 30
	ParamUserDataHeader         = 32
	ParamUserData               = 33
	ParamUserDataBinary         = 34
	ParamMoreMessagesToSend     = 44
	ParamValidityRelative       = 50
	ParamValidityAbsolute       = 51
	ParamProtocolIdentifier     = 52
	ParamFirstDeliveryRelative  = 53
	ParamFirstDeliveryAbsolute  = 54
	ParamReplyPath              = 55
	ParamStatusReportRequest    = 56
	ParamCancelEnabled          = 58
	ParamCancelMode             = 59
	ParamMCTimestamp            = 60
	ParamStatusCode             = 61
	ParamStatusErrorCode        = 62
	ParamDischargeTime          = 63
	ParamTariffClass            = 64
	ParamServiceDescription     = 65
	ParamMessageCount           = 66
	ParamPriority               = 67
	ParamDeliveryRequestMode    = 68
	ParamServiceCenterAddress   = 69
	ParamGetParameter           = 500
	ParamMCTime                 = 501
	ParamErrorCode              = 900
	ParamErrorText              = 901
)

var errorTexts = map[int]string{
	0:   "No error",
	1:   "Unexpected operation",
	2:   "Syntax error",
	3:   "Unsupported parameter error",
	4:   "Connection to SMS Center lost",
	5:   "No response from SMS Center",
	6:   "General system error",
	7:   "Cannot find information",
	8:   "Parameter formatting error",
	9:   "Requested operation failed",
	10:  "Temporary congestion error",
	100: "Invalid login",
	101: "Incorrect access type",
	102: "Too many users with this login ID",
	103: "Login refused by SMS Center",
	300: "Incorrect destination address",
	301: "Incorrect number of destination addresses",
	302: "Syntax error in user data parameter",
}

// ErrorText returns the catalogued text for a peer error code.
func ErrorText(code int) (string, bool) {
	text, ok := errorTexts[code]
	return text, ok
}
