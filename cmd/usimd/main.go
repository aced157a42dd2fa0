// usimd - capability probe and listing assembler for the instruction encoder
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/neonkingfr/UniSIMD-sub001/a64"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/x86"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "usimd",
		Short: "Retargetable instruction encoder",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		logLevel    string
		debug       string
		target      string
		caps        int
		disassemble bool
	)
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "warn", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "Comma-separated log modules to enable")

	var probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Print the host vector capability mask",
		Run: func(cmd *cobra.Command, args []string) {
			log.InitLogger(logLevel)
			log.EnableModules(debug)
			mask := encoder.Probe()
			fmt.Printf("vector widths: %s\n", mask.String())
			fmt.Printf("widest rung:   %d\n", mask.Widest())
			fmt.Printf("fused fma:     %v\n", encoder.ProbeFMA())
		},
	}

	var encodeCmd = &cobra.Command{
		Use:   "encode [listing file]",
		Short: "Assemble a textual op listing to machine bytes",
		Long: `Assemble a textual op listing to machine bytes.

The listing is one operation per line: a mnemonic with a width suffix,
then comma-separated operands. rN names a general register, [rN+disp] a
memory reference, a bare integer an immediate. "name:" binds a label.

    start:
      mov.64 r0, 0x10
      add.64 r0, [r3+8]
      cmj.64 ltu, r0, 100, start

Reads standard input when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			log.InitLogger(logLevel)
			log.EnableModules(debug)

			var src []byte
			var err error
			if len(args) == 1 {
				src, err = os.ReadFile(args[0])
			} else {
				src, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "read listing: %v\n", err)
				os.Exit(1)
			}

			t, err := encoder.ParseTarget(target)
			if err != nil {
				fmt.Fprintf(os.Stderr, "target: %v\n", err)
				os.Exit(1)
			}
			mask := capMask(caps)
			profile, err := encoder.NewProfile(t, mask)
			if err != nil {
				fmt.Fprintf(os.Stderr, "profile: %v\n", err)
				os.Exit(1)
			}
			var asm encoder.Assembler
			switch t.Arch {
			case encoder.ArchARM64:
				asm = a64.New(profile)
			default:
				asm = x86.New(profile)
			}
			sess, err := encoder.NewSession(profile, asm)
			if err != nil {
				fmt.Fprintf(os.Stderr, "session: %v\n", err)
				os.Exit(1)
			}

			if err := assemble(sess, string(src)); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			out, err := sess.Finalize()
			if err != nil {
				fmt.Fprintf(os.Stderr, "finalize: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%x\n", out)
			if disassemble {
				if err := printDisasm(t.Arch, out); err != nil {
					fmt.Fprintf(os.Stderr, "disassemble: %v\n", err)
					os.Exit(1)
				}
			}
		},
	}
	encodeCmd.Flags().StringVarP(&target, "target", "t", "x86/128", `Target selector, e.g. "x86/256" or "arm64"`)
	encodeCmd.Flags().IntVar(&caps, "caps", 0, "Pretend native vector width (128/256/512); 0 probes the host")
	encodeCmd.Flags().BoolVarP(&disassemble, "disassemble", "d", false, "Print a disassembly of the emitted bytes")

	rootCmd.AddCommand(probeCmd, encodeCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func capMask(widest int) encoder.CapMask {
	switch widest {
	case 512:
		return encoder.Cap128 | encoder.Cap256 | encoder.Cap512
	case 256:
		return encoder.Cap128 | encoder.Cap256
	case 128:
		return encoder.Cap128
	}
	return encoder.Probe()
}

func printDisasm(arch encoder.Arch, code []byte) error {
	pc := 0
	for pc < len(code) {
		switch arch {
		case encoder.ArchARM64:
			inst, err := arm64asm.Decode(code[pc:])
			if err != nil {
				return fmt.Errorf("at %#x: %v", pc, err)
			}
			fmt.Printf("%6x: %x  %s\n", pc, code[pc:pc+4], arm64asm.GNUSyntax(inst))
			pc += 4
		default:
			inst, err := x86asm.Decode(code[pc:], 64)
			if err != nil {
				return fmt.Errorf("at %#x: %v", pc, err)
			}
			fmt.Printf("%6x: %x  %s\n", pc, code[pc:pc+inst.Len], x86asm.GNUSyntax(inst, uint64(pc), nil))
			pc += inst.Len
		}
	}
	return nil
}
