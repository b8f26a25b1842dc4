// Command pffcheck is a diagnostic CLI: it opens a PFF/PST/OST container,
// reports its variant, size, and encryption mode, looks up the well-known
// root descriptor and the length of its data stream, and optionally runs
// the recovery scanner and reports how many items it recovered.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff"
)

func main() {
	doRecover := flag.Bool("recover", false, "run the recovery scanner after opening")
	fragments := flag.Bool("fragments", false, "also scan for orphan data-block fragments (implies -recover)")
	verbose := flag.Bool("v", false, "debug-level logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pffcheck [-recover] [-fragments] [-v] <path>")
		os.Exit(2)
	}

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	eng, err := pff.OpenByPath(flag.Arg(0), pff.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	fmt.Printf("variant:    %s\n", eng.VariantOf())
	fmt.Printf("encryption: %s\n", eng.EncryptionModeOf())
	fmt.Printf("size:       %d bytes\n", eng.Size())

	const rootDescriptorID = 0x21
	root, found, err := eng.Descriptor(rootDescriptorID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "descriptor(0x%x): %v\n", rootDescriptorID, err)
	} else if !found {
		fmt.Printf("root descriptor 0x%x: not found\n", rootDescriptorID)
	} else {
		fmt.Printf("root descriptor: data_id=%d local_descriptors_id=%d parent=%d\n",
			root.DataIdentifier, root.LocalDescriptorsID, root.ParentIdentifier)

		if stream, err := eng.Stream(root.DataIdentifier); err == nil {
			fmt.Printf("root stream length: %d bytes\n", stream.Length())
		} else {
			fmt.Fprintf(os.Stderr, "stream(%d): %v\n", root.DataIdentifier, err)
		}
	}

	if *doRecover || *fragments {
		if err := eng.Recover(pff.RecoverFlags{ScanForFragments: *fragments}); err != nil {
			fmt.Fprintf(os.Stderr, "recover: %v\n", err)
			os.Exit(1)
		}
		items := eng.RecoveredItems()
		fmt.Printf("recovered items: %d\n", len(items))
	}
}
