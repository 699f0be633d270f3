package transfer

// Feature toggles how a Handle stores, parses and delivers responses.
type Feature uint8

const (
	// FeatureNoDataParsing keeps the body as raw bytes (Response.Text stays empty).
	FeatureNoDataParsing Feature = iota + 1
	// FeatureNoHeaderParsing keeps headers as raw bytes (Response.Headers stays nil).
	FeatureNoHeaderParsing
	// FeatureNoDataStorage drops the body; implies FeatureNoDataParsing.
	FeatureNoDataStorage
	// FeatureNoHeaderStorage drops the headers; implies FeatureNoHeaderParsing.
	FeatureNoHeaderStorage
	// FeatureStreamResponse delivers the body through a sink stream.
	FeatureStreamResponse
)

func (f Feature) String() string {
	switch f {
	case FeatureNoDataParsing:
		return "NoDataParsing"
	case FeatureNoHeaderParsing:
		return "NoHeaderParsing"
	case FeatureNoDataStorage:
		return "NoDataStorage"
	case FeatureNoHeaderStorage:
		return "NoHeaderStorage"
	case FeatureStreamResponse:
		return "StreamResponse"
	default:
		return "Unknown"
	}
}

// Features is the set of enabled toggles.
type Features struct {
	NoDataParsing   bool
	NoHeaderParsing bool
	NoDataStorage   bool
	NoHeaderStorage bool
	StreamResponse  bool
}

func (fs *Features) flag(f Feature) *bool {
	switch f {
	case FeatureNoDataParsing:
		return &fs.NoDataParsing
	case FeatureNoHeaderParsing:
		return &fs.NoHeaderParsing
	case FeatureNoDataStorage:
		return &fs.NoDataStorage
	case FeatureNoHeaderStorage:
		return &fs.NoHeaderStorage
	case FeatureStreamResponse:
		return &fs.StreamResponse
	}
	return nil
}

// Enable turns f on together with the features it implies.
func (fs *Features) Enable(f Feature) error {
	p := fs.flag(f)
	if p == nil {
		return ErrUnknownFeature
	}
	*p = true
	switch f {
	case FeatureNoDataStorage:
		fs.NoDataParsing = true
	case FeatureNoHeaderStorage:
		fs.NoHeaderParsing = true
	}
	return nil
}

// Disable turns f off. Parsing cannot be turned back on while the matching
// storage is off.
func (fs *Features) Disable(f Feature) error {
	p := fs.flag(f)
	if p == nil {
		return ErrUnknownFeature
	}
	if (f == FeatureNoDataParsing && fs.NoDataStorage) || (f == FeatureNoHeaderParsing && fs.NoHeaderStorage) {
		return ErrFeatureConflict
	}
	*p = false
	return nil
}

// Validate checks that no-storage implies no-parsing for both body and headers.
func (fs Features) Validate() error {
	if fs.NoDataStorage && !fs.NoDataParsing {
		return ErrFeatureConflict
	}
	if fs.NoHeaderStorage && !fs.NoHeaderParsing {
		return ErrFeatureConflict
	}
	return nil
}
