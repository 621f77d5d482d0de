// Package kldd lists the dependencies of kernel modules.
//
// A kernel module is a relocatable ELF object (ET_REL). Its SHT_DYNAMIC
// sections declare the modules it needs through DT_NEEDED entries, each naming
// a file such as "misc/ksocket" relative to a kernel module directory. kldd
// resolves every such name against two search roots, the platform kernel tree
// and the generic kernel tree, and reports the files that exist. Like ldd(1)
// it only reads the object: nothing is loaded.
//
// # Resolution rules
//
//   - 32-bit modules use the declared name verbatim: misc/foo is looked up as
//     <root>/misc/foo.
//   - 64-bit modules get an amd64 directory after the first path component:
//     misc/foo is looked up as <root>/misc/amd64/foo. A name without '/' is
//     used verbatim.
//   - Both roots are always checked. Missing candidates are not errors.
//   - After the declared dependencies the parent kernel images are reported:
//     unix under the platform root and genunix under the generic root, with
//     the amd64 directory for 64-bit modules.
//
// Only the leading run of DT_NEEDED entries of each dynamic section is read.
// Producers emit them first; entries after any other tag are ignored.
//
// # Quick Start
//
//	if err := kldd.CheckVersion(); err != nil {
//	    log.Fatal(err)
//	}
//	r := kldd.NewInspector().Inspect("/kernel/drv/amd64/foo")
//	if r.Err != nil {
//	    log.Fatal(r.Err)
//	}
//	fmt.Print(r)
//
// # Types
//
// [ModuleImage] is an open module file. [ModuleImage.DynamicSections] yields
// its dynamic sections and [ModuleImage.NeededDependencies] walks them.
//
// [SearchRoots] resolves names ([SearchRoots.Resolve]) and parent images
// ([SearchRoots.Parents]).
//
// [Inspector] ties these together and produces a [Report] per file.
// [Inspector.InspectAll] handles many files, optionally in parallel, keeping
// input order.
//
// [ModuleError] carries per-file failures, classified by [ErrorKind].
package kldd
