package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/projecteru2/pupa/cmd/core"
	"github.com/projecteru2/pupa/console"
	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/hypervisor/firecracker"
	"github.com/projecteru2/pupa/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

// initHyper is the shared init for methods that only need the hypervisor.
func (h Handler) initHyper(cmd *cobra.Command) (context.Context, hypervisor.Hypervisor, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, err
	}
	hyper, err := cmdcore.InitHypervisor(conf)
	if err != nil {
		return nil, nil, err
	}
	return ctx, hyper, nil
}

// createResult holds the output of createVM for Create/Run to consume.
type createResult struct {
	*types.VM
	hyper hypervisor.Hypervisor
}

// createVM is the shared logic for Create and Run: resolve image, create VM.
func (h Handler) createVM(cmd *cobra.Command, image string) (context.Context, *createResult, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, err
	}
	backends, _, hyper, err := cmdcore.InitBackends(ctx, conf)
	if err != nil {
		return nil, nil, err
	}

	vmCfg, err := cmdcore.VMConfigFromFlags(cmd, image)
	if err != nil {
		return nil, nil, err
	}

	storageConfigs, bootCfg, err := cmdcore.ResolveImage(ctx, backends, vmCfg)
	if err != nil {
		return nil, nil, err
	}

	vm, err := hyper.Create(ctx, vmCfg, storageConfigs, bootCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create VM: %w", err)
	}
	return ctx, &createResult{VM: vm, hyper: hyper}, nil
}

func (h Handler) Create(cmd *cobra.Command, args []string) error {
	ctx, res, err := h.createVM(cmd, args[0])
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.create")
	logger.Infof(ctx, "VM created: %s (name: %s, state: %s)", res.ID, res.Config.Name, res.State)
	logger.Infof(ctx, "start with: pupa vm start %s", res.ID)
	return nil
}

func (h Handler) Run(cmd *cobra.Command, args []string) error {
	ctx, res, err := h.createVM(cmd, args[0])
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.run")
	logger.Infof(ctx, "VM created: %s (name: %s)", res.ID, res.Config.Name)

	started, err := res.hyper.Start(ctx, []string{res.ID})
	if err != nil {
		return fmt.Errorf("start VM %s: %w", res.ID, err)
	}
	for _, id := range started {
		logger.Infof(ctx, "started: %s", id)
	}
	return nil
}

func (h Handler) Start(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	return batchVMCmd(ctx, "start", "started", hyper.Start, args)
}

func (h Handler) Stop(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	return batchVMCmd(ctx, "stop", "stopped", hyper.Stop, args)
}

func (h Handler) Kill(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	return batchVMCmd(ctx, "kill", "killed", hyper.Kill, args)
}

func (h Handler) Pause(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	return batchVMCmd(ctx, "pause", "paused", hyper.Pause, args)
}

func (h Handler) Resume(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	return batchVMCmd(ctx, "resume", "resumed", hyper.Resume, args)
}

func (h Handler) Snapshot(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	if err := hyper.Snapshot(ctx, args[0]); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	log.WithFunc("cmd.snapshot").Infof(ctx, "snapshot taken: %s", args[0])
	return nil
}

func (h Handler) Restore(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	resume, _ := cmd.Flags().GetBool("resume")
	if err := hyper.Restore(ctx, args[0], resume); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	log.WithFunc("cmd.restore").Infof(ctx, "restored: %s (resumed: %v)", args[0], resume)
	return nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}

	vms, err := hyper.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(vms) == 0 {
		fmt.Println("No VMs found.")
		return nil
	}

	sort.Slice(vms, func(i, j int) bool { return vms[i].CreatedAt.Before(vms[j].CreatedAt) })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tCPU\tMEMORY\tIMAGE\tCREATED")
	for _, vm := range vms {
		state := cmdcore.ReconcileState(vm)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			vm.ID,
			vm.Config.Name,
			state,
			vm.Config.CPU,
			units.BytesSize(float64(vm.Config.Memory)),
			vm.Config.Image,
			vm.CreatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}

	vm, err := hyper.Inspect(ctx, args[0])
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(vm)
}

func (h Handler) Console(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	ref := args[0]

	conn, err := hyper.Console(ctx, ref)
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	escapeStr, _ := cmd.Flags().GetString("escape-char")
	escapeChar, err := console.ParseEscapeChar(escapeStr)
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Fprintf(os.Stderr, "\r\nDisconnected from %s.\r\n", ref)
	}()

	escapeDisplay := console.FormatEscapeChar(escapeChar)
	fmt.Fprintf(os.Stderr, "Connected to %s (escape sequence: %s.)\r\n", ref, escapeDisplay)

	if err := console.Relay(ctx, conn, escapeChar); err != nil {
		fmt.Fprintf(os.Stderr, "\r\nrelay error: %v\r\n", err)
	}
	return nil
}

// RM deletes VMs. hyper.Delete uses best-effort semantics: it logs successfully
// deleted VMs in the returned slice even when later deletions fail, so we always
// report the partial results before checking the error.
func (h Handler) RM(cmd *cobra.Command, args []string) error {
	ctx, hyper, err := h.initHyper(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.rm")

	force, _ := cmd.Flags().GetBool("force")

	deleted, err := hyper.Delete(ctx, args, force)
	for _, id := range deleted {
		logger.Infof(ctx, "deleted VM: %s", id)
	}
	if err != nil {
		return fmt.Errorf("rm: %w", err)
	}
	if len(deleted) == 0 {
		logger.Info(ctx, "no VMs deleted")
	}
	return nil
}

// Debug resolves the image and flags exactly like create, then prints the
// firecracker API configuration that would be applied, without touching the
// VM index or the host.
func (h Handler) Debug(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	backends, _, err := cmdcore.InitImageBackends(ctx, conf)
	if err != nil {
		return err
	}

	vmCfg, err := cmdcore.VMConfigFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	storageConfigs, bootCfg, err := cmdcore.ResolveImage(ctx, backends, vmCfg)
	if err != nil {
		return err
	}

	mc, err := firecracker.PreviewConfig(conf, vmCfg, storageConfigs, bootCfg)
	if err != nil {
		return err
	}

	fmt.Printf("# VM: %s (image: %s)\n", vmCfg.Name, vmCfg.Image)
	fmt.Printf("# %s --api-sock <run-dir>/<vm-id>/firecracker.sock\n", conf.FCBinary)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(mc)
}

func batchVMCmd(ctx context.Context, name, pastTense string, fn func(context.Context, []string) ([]string, error), refs []string) error {
	logger := log.WithFunc("cmd." + name)
	done, err := fn(ctx, refs)
	for _, id := range done {
		logger.Infof(ctx, "%s: %s", pastTense, id)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(done) == 0 {
		logger.Infof(ctx, "no VMs %s", strings.ToLower(pastTense))
	}
	return nil
}
