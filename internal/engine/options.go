package engine

import (
	"fmt"
	"time"
)

// Option names a transfer setting accepted by Transfer.SetOpt.
type Option int

const (
	OptURL              Option = iota + 1 // string
	OptCustomRequest                      // string, request method override
	OptHTTPHeader                         // []string, "Name: value" lines
	OptUpload                             // bool, send a request body pulled from the read callback
	OptInFileSize                         // int64, expected upload size, -1 when unknown
	OptTimeout                            // time.Duration, whole-transfer timeout, 0 for none
	OptBufferSize                         // int, largest chunk handed to the write callback
	OptUploadBufferSize                   // int, size of the buffer handed to the read callback
	OptNoProgress                         // bool, disables the progress callback
	OptFollowLocation                     // bool
	OptUserAgent                          // string
)

var optionNames = map[Option]string{
	OptURL:              "URL",
	OptCustomRequest:    "CUSTOMREQUEST",
	OptHTTPHeader:       "HTTPHEADER",
	OptUpload:           "UPLOAD",
	OptInFileSize:       "INFILESIZE",
	OptTimeout:          "TIMEOUT",
	OptBufferSize:       "BUFFERSIZE",
	OptUploadBufferSize: "UPLOAD_BUFFERSIZE",
	OptNoProgress:       "NOPROGRESS",
	OptFollowLocation:   "FOLLOWLOCATION",
	OptUserAgent:        "USERAGENT",
}

func (o Option) String() string {
	if name, ok := optionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPTION(%d)", int(o))
}

const (
	DefaultBufferSize       = 16 * 1024
	DefaultUploadBufferSize = 64 * 1024
	MaxBufferSize           = 10 * 1024 * 1024
)

// Options is the marshalled form of every Option, shared by engine
// implementations.
type Options struct {
	URL              string
	Method           string
	Header           []string
	Upload           bool
	InFileSize       int64
	Timeout          time.Duration
	BufferSize       int
	UploadBufferSize int
	NoProgress       bool
	FollowLocation   bool
	UserAgent        string
}

func DefaultOptions() Options {
	return Options{
		InFileSize:       -1,
		BufferSize:       DefaultBufferSize,
		UploadBufferSize: DefaultUploadBufferSize,
		NoProgress:       true,
	}
}

// RequestMethod returns the method a transfer with these options uses.
func (o *Options) RequestMethod() string {
	switch {
	case o.Method != "":
		return o.Method
	case o.Upload:
		return "PUT"
	default:
		return "GET"
	}
}

// Set validates value for opt and stores it. Rejections are *Error values
// carrying CodeUnknownOption or CodeBadFunctionArgument.
func (o *Options) Set(opt Option, value any) error {
	switch opt {
	case OptURL:
		return setString(opt, value, &o.URL)
	case OptCustomRequest:
		return setString(opt, value, &o.Method)
	case OptUserAgent:
		return setString(opt, value, &o.UserAgent)
	case OptHTTPHeader:
		switch v := value.(type) {
		case []string:
			o.Header = append([]string(nil), v...)
			return nil
		case nil:
			o.Header = nil
			return nil
		}
		return badType(opt, "[]string", value)
	case OptUpload:
		return setBool(opt, value, &o.Upload)
	case OptNoProgress:
		return setBool(opt, value, &o.NoProgress)
	case OptFollowLocation:
		return setBool(opt, value, &o.FollowLocation)
	case OptInFileSize:
		n, ok := toInt64(value)
		if !ok {
			return badType(opt, "int64", value)
		}
		if n < -1 {
			return badValue(opt, value)
		}
		o.InFileSize = n
		return nil
	case OptTimeout:
		d, ok := value.(time.Duration)
		if !ok {
			return badType(opt, "time.Duration", value)
		}
		if d < 0 {
			return badValue(opt, value)
		}
		o.Timeout = d
		return nil
	case OptBufferSize, OptUploadBufferSize:
		n, ok := toInt64(value)
		if !ok {
			return badType(opt, "int", value)
		}
		if n <= 0 || n > MaxBufferSize {
			return badValue(opt, value)
		}
		if opt == OptBufferSize {
			o.BufferSize = int(n)
		} else {
			o.UploadBufferSize = int(n)
		}
		return nil
	}
	return NewError(CodeUnknownOption, fmt.Errorf("option %s", opt))
}

func setString(opt Option, value any, dst *string) error {
	v, ok := value.(string)
	if !ok {
		return badType(opt, "string", value)
	}
	*dst = v
	return nil
}

func setBool(opt Option, value any, dst *bool) error {
	v, ok := value.(bool)
	if !ok {
		return badType(opt, "bool", value)
	}
	*dst = v
	return nil
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func badType(opt Option, want string, got any) error {
	return NewError(CodeBadFunctionArgument, fmt.Errorf("option %s expects %s, got %T", opt, want, got))
}

func badValue(opt Option, got any) error {
	return NewError(CodeBadFunctionArgument, fmt.Errorf("option %s: invalid value %v", opt, got))
}
