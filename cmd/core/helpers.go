package core

import (
	"context"
	"fmt"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/projecteru2/pupa/config"
	"github.com/projecteru2/pupa/hypervisor"
	"github.com/projecteru2/pupa/hypervisor/firecracker"
	imagebackend "github.com/projecteru2/pupa/images"
	"github.com/projecteru2/pupa/images/oci"
	"github.com/projecteru2/pupa/network"
	"github.com/projecteru2/pupa/network/tap"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// InitBackends initializes the image backends, the network provider, and the
// hypervisor in one shot for commands that need the full engine (gc, run).
func InitBackends(ctx context.Context, conf *config.Config) ([]imagebackend.Images, network.Network, hypervisor.Hypervisor, error) {
	ociStore, err := oci.New(ctx, conf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init oci backend: %w", err)
	}
	net, err := tap.New(conf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init network: %w", err)
	}
	fc, err := firecracker.New(conf, net)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init hypervisor: %w", err)
	}
	return []imagebackend.Images{ociStore}, net, fc, nil
}

// InitImageBackends initializes only image backends (no hypervisor needed).
func InitImageBackends(ctx context.Context, conf *config.Config) ([]imagebackend.Images, *oci.OCI, error) {
	ociStore, err := oci.New(ctx, conf)
	if err != nil {
		return nil, nil, fmt.Errorf("init oci backend: %w", err)
	}
	return []imagebackend.Images{ociStore}, ociStore, nil
}

// InitHypervisor initializes the hypervisor and its network provider.
func InitHypervisor(conf *config.Config) (hypervisor.Hypervisor, error) {
	net, err := tap.New(conf)
	if err != nil {
		return nil, fmt.Errorf("init network: %w", err)
	}
	fc, err := firecracker.New(conf, net)
	if err != nil {
		return nil, fmt.Errorf("init hypervisor: %w", err)
	}
	return fc, nil
}

// ResolveImage resolves an image reference to StorageConfigs + BootConfig.
func ResolveImage(ctx context.Context, backends []imagebackend.Images, vmCfg *types.VMConfig) ([]*types.StorageConfig, *types.BootConfig, error) {
	vms := []*types.VMConfig{vmCfg}
	var storageConfigs []*types.StorageConfig
	var bootCfg *types.BootConfig
	var backendErrs []string
	for _, b := range backends {
		confs, boots, err := b.Config(ctx, vms)
		if err != nil {
			backendErrs = append(backendErrs, fmt.Sprintf("%s: %v", b.Type(), err))
			continue
		}
		storageConfigs = confs[0]
		bootCfg = boots[0]
		break
	}
	if bootCfg == nil {
		return nil, nil, fmt.Errorf("image %q not resolved: %s", vmCfg.Image, strings.Join(backendErrs, "; "))
	}
	return storageConfigs, bootCfg, nil
}

// VMConfigFromFlags builds VMConfig for create/run commands.
func VMConfigFromFlags(cmd *cobra.Command, image string) (*types.VMConfig, error) {
	vmName, _ := cmd.Flags().GetString("name")
	cpu, _ := cmd.Flags().GetInt("cpu")
	memStr, _ := cmd.Flags().GetString("memory")
	storStr, _ := cmd.Flags().GetString("storage")
	nics, _ := cmd.Flags().GetInt("nics")

	if vmName == "" {
		vmName = fmt.Sprintf("pupa-%s", image)
	}

	memBytes, err := units.RAMInBytes(memStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --memory %q: %w", memStr, err)
	}
	storBytes, err := units.RAMInBytes(storStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --storage %q: %w", storStr, err)
	}

	return &types.VMConfig{
		Name:    vmName,
		CPU:     cpu,
		Memory:  memBytes,
		Storage: storBytes,
		NICs:    nics,
		Image:   image,
	}, nil
}

// ReconcileState checks actual process liveness to detect stale "running" records.
func ReconcileState(vm *types.VM) string {
	if vm.State == types.VMStateRunning && !utils.IsProcessAlive(vm.PID) {
		return "stopped (stale)"
	}
	return string(vm.State)
}

func FormatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}
