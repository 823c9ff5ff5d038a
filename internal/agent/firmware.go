package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/process"
)

const (
	defaultDownloadTimeout = 10 * time.Minute
	defaultImageName       = "firmware.bin"
	partialSuffix          = ".part"
)

// fetchError carries the firmware update status a failed download maps to.
type fetchError struct {
	status dm.FirmwareUpdateStatus
	err    error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

func failWith(status dm.FirmwareUpdateStatus, format string, args ...any) error {
	return &fetchError{status: status, err: fmt.Errorf(format, args...)}
}

// statusOf returns the update status err maps to, ConnectionLost if none.
func statusOf(err error) dm.FirmwareUpdateStatus {
	var fe *fetchError
	if errors.As(err, &fe) {
		return fe.status
	}
	return dm.UpdateConnectionLost
}

// fetcher downloads firmware images into dir.
type fetcher struct {
	dir     string
	timeout time.Duration
	client  *http.Client
}

func newFetcher(dir string, timeout time.Duration) *fetcher {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &fetcher{dir: dir, timeout: timeout, client: &http.Client{}}
}

// imagePath is where the image for fw lives. It depends only on the record,
// so an image downloaded before a restart is found again.
func (f *fetcher) imagePath(fw dm.FirmwareRecord) string {
	name := ""
	if u, err := url.Parse(fw.URI); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" || name == ".." {
		name = defaultImageName
	}
	return filepath.Join(f.dir, filepath.Base(name))
}

// get downloads fw.URI to imagePath and checks the verifier.
func (f *fetcher) get(ctx context.Context, fw dm.FirmwareRecord) (string, error) {
	u, err := url.Parse(fw.URI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", failWith(dm.UpdateInvalidURI, "invalid firmware uri %q", fw.URI)
	}

	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return "", failWith(dm.UpdateOutOfMemory, "creating firmware directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", failWith(dm.UpdateInvalidURI, "building request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", failWith(dm.UpdateConnectionLost, "downloading firmware: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", failWith(dm.UpdateInvalidURI, "firmware not found: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return "", failWith(dm.UpdateConnectionLost, "unexpected status downloading firmware: %s", resp.Status)
	}

	dest := f.imagePath(fw)
	tmp := dest + partialSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", failWith(dm.UpdateOutOfMemory, "creating image file: %w", err)
	}

	hash := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(out, hash), resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp) //nolint:errcheck // best effort cleanup
		if copyErr != nil {
			return "", failWith(dm.UpdateConnectionLost, "writing image: %w", copyErr)
		}
		return "", failWith(dm.UpdateOutOfMemory, "closing image file: %w", closeErr)
	}

	if want := strings.TrimSpace(fw.Verifier); want != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, want) {
			os.Remove(tmp) //nolint:errcheck // best effort cleanup
			return "", failWith(dm.UpdateVerificationFailed, "image sha256 %s does not match verifier %s", got, want)
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp) //nolint:errcheck // best effort cleanup
		return "", failWith(dm.UpdateOutOfMemory, "storing image: %w", err)
	}
	return dest, nil
}

// Download implements dm.FirmwareHandler.
func (a *Agent) Download(ctx context.Context, fw dm.FirmwareRecord) {
	a.wg.Go(func() { a.download(ctx, fw) })
}

// Update implements dm.FirmwareHandler.
func (a *Agent) Update(ctx context.Context, fw dm.FirmwareRecord) {
	a.wg.Go(func() { a.update(ctx, fw) })
}

func (a *Agent) download(ctx context.Context, fw dm.FirmwareRecord) {
	e := a.bound()
	if e == nil {
		a.logger.Error("agent not bound to an engine", "action", "firmware_download")
		return
	}
	if err := e.ChangeFirmwareState(ctx, dm.FirmwareDownloading); err != nil {
		a.logger.Warn("firmware download not started", "error", err)
		return
	}

	a.logger.Info("downloading firmware", "uri", fw.URI, "version", fw.Version)
	start := time.Now()
	dest, err := a.fetch.get(ctx, fw)
	if err != nil {
		status := statusOf(err)
		a.logger.Error("firmware download failed", "uri", fw.URI, "status", status.String(), "error", err)
		a.setStatus(ctx, e, status)
		return
	}

	a.logger.Info("firmware downloaded", "path", dest, "elapsed", time.Since(start))
	if err := e.ChangeFirmwareState(ctx, dm.FirmwareDownloaded); err != nil {
		a.logger.Warn("recording firmware download failed", "error", err)
	}
}

func (a *Agent) update(ctx context.Context, fw dm.FirmwareRecord) {
	e := a.bound()
	if e == nil {
		a.logger.Error("agent not bound to an engine", "action", "firmware_update")
		return
	}

	image := a.fetch.imagePath(fw)
	if len(a.cfg.InstallCommand) == 0 {
		a.logger.Error("firmware update requested without an install command")
		a.setStatus(ctx, e, dm.UpdateUnsupportedImage)
		return
	}
	if _, err := os.Stat(image); err != nil {
		a.logger.Error("firmware image missing", "path", image, "error", err)
		a.setStatus(ctx, e, dm.UpdateUnsupportedImage)
		return
	}

	if err := e.ChangeFirmwareUpdateState(ctx, dm.UpdateInProgress); err != nil {
		a.logger.Warn("firmware update not started", "error", err)
		return
	}

	_, err := a.runner.Run(ctx, process.Command{
		Name: "firmware-install",
		Argv: append(slices.Clone(a.cfg.InstallCommand), image),
		Env: []string{
			"IOTDM_FIRMWARE_VERSION=" + fw.Version,
			"IOTDM_FIRMWARE_NAME=" + fw.Name,
		},
	})
	if err != nil {
		a.logger.Error("firmware install failed", "version", fw.Version, "error", err)
		a.setStatus(ctx, e, dm.UpdateUnsupportedImage)
		return
	}

	a.logger.Info("firmware installed", "version", fw.Version)
	a.setStatus(ctx, e, dm.UpdateSuccess)
}

func (a *Agent) setStatus(ctx context.Context, e Engine, status dm.FirmwareUpdateStatus) {
	if err := e.ChangeFirmwareUpdateState(ctx, status); err != nil {
		a.logger.Warn("recording firmware update status failed", "status", status.String(), "error", err)
	}
}
