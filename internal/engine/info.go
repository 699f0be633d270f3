package engine

import "fmt"

// Info names a value readable through Transfer.Info.
type Info int

const (
	InfoResponseCode          Info = iota + 1 // int
	InfoEffectiveURL                          // string
	InfoSizeDownload                          // int64
	InfoSizeUpload                            // int64
	InfoContentLengthDownload                 // int64, -1 when unknown
	InfoTotalTime                             // time.Duration
)

func (i Info) String() string {
	switch i {
	case InfoResponseCode:
		return "RESPONSE_CODE"
	case InfoEffectiveURL:
		return "EFFECTIVE_URL"
	case InfoSizeDownload:
		return "SIZE_DOWNLOAD"
	case InfoSizeUpload:
		return "SIZE_UPLOAD"
	case InfoContentLengthDownload:
		return "CONTENT_LENGTH_DOWNLOAD"
	case InfoTotalTime:
		return "TOTAL_TIME"
	default:
		return fmt.Sprintf("INFO(%d)", int(i))
	}
}

// UnknownInfo is the error engines return for an Info they do not track.
func UnknownInfo(i Info) error {
	return NewError(CodeBadFunctionArgument, fmt.Errorf("unknown info %s", i))
}
