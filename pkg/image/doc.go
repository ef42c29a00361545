// SPDX-License-Identifier: MPL-2.0

// Package image provides a uniform handler abstraction over binary image
// container formats: compressed containers (WIM), virtual disks (VHD/VHDX),
// optical discs (ISO), and provisioning packages (PPKG).
//
// Every format is serviced through the same Handler interface: mount the
// artifact to a directory, operate on its contents as a plain file tree,
// then unmount with an explicit commit-or-discard decision. The bit-level
// container work (mounting, extraction, repacking) is delegated to a
// servicing.Executor; handlers own the lifecycle state machine, path
// containment, and cleanup.
//
// Handlers are obtained through a Registry, which dispatches on the
// artifact's file extension:
//
//	reg := image.DefaultRegistry(servicing.NewCLIExecutor())
//	h, err := reg.Handler("/srv/images/base.wim")
//	mountPoint, err := h.Mount(ctx, image.MountOptions{})
//	defer func() { _ = h.Unmount(ctx, false) }()
//
// Mount styles differ per format family: WIM and VHD/VHDX artifacts are
// mounted in place by the executor, while ISO and PPKG artifacts are
// extracted to a staging directory and repacked on commit. Callers see the
// same contract either way.
package image
