// Package process runs the one-shot commands behind device actions.
//
// Reboot, factory reset and firmware install are delegated to operator
// configured commands. Each runs in its own process group so cancellation
// reaches its children: SIGTERM first, SIGKILL after the grace period.
// Output is logged line by line at debug level and the tail is kept for
// error reports.
//
// Example usage:
//
//	r := process.NewRunner(logger)
//	h, err := r.Start(ctx, process.Command{
//	    Name: "install",
//	    Argv: []string{"/usr/sbin/fw-install", imagePath},
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := h.Wait()
package process
