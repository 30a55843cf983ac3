package gpu

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jaypipes/pcidb"
)

func TestDiscoverClassifiesVendors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	createCard(t, root, "card0", "0x1002", "0x73df", "PCI_SLOT_NAME=0000:0a:00.0\nPCI_ID=1002:73DF\nPCI_ID_NAME=AMD Radeon RX 6800\n", "renderD128")
	createCard(t, root, "card1", "0x10de", "0x2684", "PCI_SLOT_NAME=0000:01:00.0\nDRIVER=nvidia\n", "renderD129")
	createCard(t, root, "card2", "0x8086", "0x56a0", "PCI_SLOT_NAME=0000:03:00.0\nPCI_ID_NAME=Intel Arc A770\n", "")
	// Connector entries must be ignored.
	if err := os.MkdirAll(filepath.Join(root, "class", "drm", "card0-DP-1"), 0o750); err != nil {
		t.Fatalf("mkdir connector: %v", err)
	}

	infos, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 GPUs, got %d: %+v", len(infos), infos)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	if infos[0].Vendor != VendorAMD || infos[0].PCI != "0000:0a:00.0" || infos[0].RenderNode != "/dev/dri/renderD128" {
		t.Errorf("unexpected card0: %+v", infos[0])
	}
	if infos[0].Name != "AMD Radeon RX 6800" {
		t.Errorf("unexpected card0 name %q", infos[0].Name)
	}
	if infos[1].Vendor != VendorNvidia {
		t.Errorf("expected card1 to be NVIDIA, got %q", infos[1].Vendor)
	}
	if infos[1].PCIID != "10de:2684" {
		t.Errorf("expected PCI ID fallback to vendor/device, got %q", infos[1].PCIID)
	}
	if infos[2].Vendor != VendorIntel || infos[2].RenderNode != "" {
		t.Errorf("unexpected card2: %+v", infos[2])
	}

	if amd := FilterVendor(infos, VendorAMD); len(amd) != 1 || amd[0].ID != "card0" {
		t.Errorf("FilterVendor(AMD) returned %+v", amd)
	}
}

func TestVendorFromPCI(t *testing.T) {
	t.Parallel()

	cases := map[string]Vendor{
		"0x10de": VendorNvidia,
		"0x1002": VendorAMD,
		"0x8086": VendorIntel,
		"8086":   VendorIntel,
		"0x1af4": VendorUnknown,
		"":       VendorUnknown,
	}
	for raw, want := range cases {
		if got := VendorFromPCI(raw); got != want {
			t.Errorf("VendorFromPCI(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDiscoverMissingDRMClass(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	infos, err := Discover(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected 0 GPUs, got %d", len(infos))
	}
}

func TestDiscoverFollowsSymlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	classPath := filepath.Join(root, "class", "drm")
	if err := os.MkdirAll(classPath, 0o750); err != nil {
		t.Fatalf("mkdir class: %v", err)
	}

	target := filepath.Join(root, "devices", "pci0000:00", "0000:00:01.0", "drm", "card0")
	deviceDir := filepath.Join(target, "device")
	writeFile(t, filepath.Join(deviceDir, "uevent"), "PCI_SLOT_NAME=0000:00:01.0\nPCI_ID=1002:73df\n")
	writeFile(t, filepath.Join(deviceDir, "vendor"), "0x1002\n")
	writeFile(t, filepath.Join(deviceDir, "device"), "0x73df\n")

	relTarget, err := filepath.Rel(classPath, target)
	if err != nil {
		t.Fatalf("filepath.Rel: %v", err)
	}
	if err := os.Symlink(relTarget, filepath.Join(classPath, "card0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	infos, err := Discover(root, logger)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "card0" || infos[0].Vendor != VendorAMD {
		t.Fatalf("expected symlinked AMD gpu, got %+v", infos)
	}
}

func TestDiscoverUsesPCIDatabase(t *testing.T) {
	t.Parallel()

	db, err := pcidb.New()
	if err != nil {
		t.Skipf("pcidb unavailable: %v", err)
	}

	product, ok := db.Products["100273bf"]
	if !ok || product == nil || product.Name == "" {
		t.Skip("pcidb missing product 1002:73bf")
	}

	root := t.TempDir()
	createCard(t, root, "card0", "0x1002", "0x73bf", "PCI_SLOT_NAME=0000:00:01.0\nPCI_ID=1002:73BF\n", "renderD128")

	infos, err := Discover(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 GPU, got %d", len(infos))
	}
	if infos[0].Name != product.Name {
		t.Fatalf("expected name %q, got %q", product.Name, infos[0].Name)
	}
}

func createCard(t *testing.T, root, cardID, vendor, device, uevent, renderNode string) string {
	t.Helper()
	deviceDir := filepath.Join(root, "class", "drm", cardID, "device")
	writeFile(t, filepath.Join(deviceDir, "vendor"), vendor+"\n")
	writeFile(t, filepath.Join(deviceDir, "device"), device+"\n")
	if uevent != "" {
		writeFile(t, filepath.Join(deviceDir, "uevent"), uevent)
	}
	if renderNode != "" {
		if err := os.MkdirAll(filepath.Join(deviceDir, "drm", renderNode), 0o750); err != nil {
			t.Fatalf("mkdir render node: %v", err)
		}
	}
	return deviceDir
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
