package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jaywantadh/xferstream/config"
	"github.com/jaywantadh/xferstream/internal/compressor"
	"github.com/jaywantadh/xferstream/internal/encryptor"
	"github.com/jaywantadh/xferstream/internal/history"
	"github.com/jaywantadh/xferstream/internal/storage"
	"github.com/jaywantadh/xferstream/pkg/env"
	"github.com/jaywantadh/xferstream/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"g"},
		Usage:     "Download a URL, streaming the body to a file or stdout",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the body to `FILE` instead of stdout"},
			&cli.StringFlag{Name: "store", Usage: "also keep the body in the content-addressed store at `DIR`"},
			&cli.BoolFlag{Name: "lz4", Usage: "decompress an lz4-framed body"},
			&cli.BoolFlag{Name: "decrypt", Usage: "open a body sealed with put --encrypt, password from $" + passwordEnv},
			&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "extra request header, \"Name: value\""},
			&cli.BoolFlag{Name: "progress", Aliases: []string{"p"}, Usage: "print progress to stderr"},
		},
		Action: runGet,
	}
}

func runGet(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		return cli.Exit("get requires a URL", 2)
	}
	codec := bodyCodec{lz4: c.Bool("lz4")}
	if c.Bool("decrypt") {
		if codec.password = password(); codec.password == "" {
			return cli.Exit(passwordEnv+" must be set to decrypt", 2)
		}
	}

	var out io.Writer = c.App.Writer
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	s, err := openSession(config.Config)
	if err != nil {
		return err
	}
	defer s.Close()

	var st storage.Storage
	if dir := c.String("store"); dir != "" {
		if st, err = storage.NewLocalStorage(dir); err != nil {
			return err
		}
	}

	var storedID string
	req := request{
		URL:     url,
		Headers: c.StringSlice("header"),
		Sink: func(body io.Reader) error {
			id, err := saveBody(body, out, codec, st)
			storedID = id
			return err
		},
	}
	if c.Bool("progress") {
		req.Progress = c.App.ErrWriter
	}

	resp, err := s.perform(c.Context, req)
	if err != nil {
		return err
	}
	logging.Log.WithFields(logrus.Fields{
		"url":    url,
		"status": resp.Status,
		"bytes":  resp.BodyLen,
	}).Info("Download complete")
	if storedID != "" {
		path, err := st.GetPath(storedID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "stored as %s (%s)\n", storedID, path)
	}
	return nil
}

const passwordEnv = "XFER_PASSWORD"

func password() string {
	return env.GetEnv(passwordEnv, "")
}

// bodyCodec undoes the transforms put applied to a body: decryption first,
// then lz4.
type bodyCodec struct {
	lz4      bool
	password string
}

type storeResult struct {
	id  string
	err error
}

// saveBody copies body to out through codec and tees the result into st
// when it is set.
func saveBody(body io.Reader, out io.Writer, codec bodyCodec, st storage.Storage) (string, error) {
	if st == nil {
		return "", copyBody(out, body, codec)
	}

	pr, pw := io.Pipe()
	stored := make(chan storeResult, 1)
	go func() {
		id, err := st.Put(pr)
		pr.CloseWithError(err)
		stored <- storeResult{id: id, err: err}
	}()

	err := copyBody(io.MultiWriter(out, pw), body, codec)
	pw.CloseWithError(err)
	res := <-stored
	if err != nil {
		return "", err
	}
	return res.id, res.err
}

func copyBody(w io.Writer, body io.Reader, codec bodyCodec) error {
	var stages []io.WriteCloser
	if codec.lz4 {
		dw := compressor.DecompressWriter(w)
		stages = append(stages, dw)
		w = dw
	}
	if codec.password != "" {
		dw := encryptor.DecryptWriter(w, codec.password)
		stages = append(stages, dw)
		w = dw
	}

	_, err := io.Copy(w, body)
	for i := len(stages) - 1; i >= 0; i-- {
		if cerr := stages[i].Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Aliases:   []string{"p"},
		Usage:     "Upload a file or a stored blob, streaming it as the request body",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "`FILE` to upload"},
			&cli.StringFlag{Name: "from-store", Usage: "upload the blob `ID` from the store given by --store"},
			&cli.StringFlag{Name: "store", Usage: "content-addressed store at `DIR`"},
			&cli.StringFlag{Name: "method", Aliases: []string{"X"}, Value: "PUT", Usage: "request method"},
			&cli.BoolFlag{Name: "lz4", Usage: "compress the body with lz4 on the fly"},
			&cli.BoolFlag{Name: "encrypt", Usage: "seal the body with a key derived from $" + passwordEnv},
			&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "extra request header, \"Name: value\""},
			&cli.BoolFlag{Name: "progress", Usage: "print progress to stderr"},
		},
		Action: runPut,
	}
}

// openUpload opens the file or stored blob named by the put flags.
func openUpload(c *cli.Context) (rc io.ReadCloser, name string, size int64, err error) {
	path, id := c.String("file"), c.String("from-store")
	switch {
	case path != "" && id != "":
		return nil, "", 0, cli.Exit("use either --file or --from-store", 2)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return nil, "", 0, fmt.Errorf("failed to open %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, "", 0, err
		}
		return f, path, info.Size(), nil
	case id != "":
		dir := c.String("store")
		if dir == "" {
			return nil, "", 0, cli.Exit("--from-store requires --store", 2)
		}
		st, err := storage.NewLocalStorage(dir)
		if err != nil {
			return nil, "", 0, err
		}
		if path, err = st.GetPath(id); err != nil {
			return nil, "", 0, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, "", 0, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		rc, err := st.Get(id)
		if err != nil {
			return nil, "", 0, err
		}
		return rc, path, info.Size(), nil
	}
	return nil, "", 0, cli.Exit("put requires --file or --from-store", 2)
}

func runPut(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		return cli.Exit("put requires a URL", 2)
	}
	var secret string
	if c.Bool("encrypt") {
		if secret = password(); secret == "" {
			return cli.Exit(passwordEnv+" must be set to encrypt", 2)
		}
	}

	in, name, size, err := openUpload(c)
	if err != nil {
		return err
	}
	defer in.Close()

	var body io.Reader = in
	length := size
	if c.Bool("lz4") {
		if compressor.ShouldSkipCompression(name) {
			logging.Log.Infof("Skipping compression for %s", name)
		} else {
			rc := compressor.CompressReader(body)
			defer rc.Close()
			body, length = rc, -1
		}
	}
	if secret != "" {
		rc := encryptor.EncryptReader(body, secret)
		defer rc.Close()
		body, length = rc, -1
	}

	s, err := openSession(config.Config)
	if err != nil {
		return err
	}
	defer s.Close()

	req := request{
		URL:      url,
		Method:   c.String("method"),
		Headers:  c.StringSlice("header"),
		Body:     body,
		BodySize: length,
	}
	if c.Bool("progress") {
		req.Progress = c.App.ErrWriter
	}

	resp, err := s.perform(c.Context, req)
	if err != nil {
		return err
	}
	logging.Log.WithFields(logrus.Fields{
		"url":    url,
		"status": resp.Status,
		"bytes":  size,
	}).Info("Upload complete")
	_, err = c.App.Writer.Write(resp.Body)
	return err
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recently finished transfers",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "show at most `N` records"},
		},
		Action: func(c *cli.Context) error {
			if config.Config.HistoryPath == "" {
				return cli.Exit("history is disabled", 1)
			}
			store, err := history.Open(config.Config.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(c.Int("limit"))
			if err != nil {
				return err
			}
			return printHistory(c.App.Writer, records)
		},
	}
}

func printHistory(w io.Writer, records []history.CompletionRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tMETHOD\tSTATUS\tUP\tDOWN\tTOOK\tURL\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.FinishedAt.Format(time.DateTime), r.Method, r.Status,
			r.Uploaded, r.Downloaded, r.Duration().Round(time.Millisecond), r.URL, r.Error)
	}
	return tw.Flush()
}
