// Command xadessign is a thin CLI over the xades package: sign and
// verify XAdES signatures from the shell, wiring pkg/config and
// pkg/logger the way jhoicas-Inventario-api's cmd/ entrypoints wire
// their own config/logger packages ahead of the domain logic.
package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/beevik/etree"

	"github.com/lou-perret/xml-signer/internal/certbind"
	"github.com/lou-perret/xml-signer/internal/dsig"
	"github.com/lou-perret/xml-signer/pkg/config"
	"github.com/lou-perret/xml-signer/pkg/logger"
	"github.com/lou-perret/xml-signer/xades"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "xadessign: load config:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})

	switch os.Args[1] {
	case "sign":
		if err := runSign(cfg, log, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "xadessign sign:", err)
			os.Exit(1)
		}
	case "verify":
		if err := runVerify(cfg, log, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "xadessign verify:", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: xadessign <sign|verify> [flags]")
}

func runSign(cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	in := fs.String("in", "", "path to the XML document to sign")
	out := fs.String("out", "", "path to write the signed document")
	p12 := fs.String("p12", "", "path to a PKCS#12 key/certificate bundle")
	p12Password := fs.String("p12-password", "", "PKCS#12 password")
	certPath := fs.String("cert", "", "PEM certificate path (alternative to -p12)")
	keyPath := fs.String("key", "", "PEM key path (alternative to -p12)")
	detached := fs.Bool("detached", false, "produce a detached signature instead of enveloping -in")
	timestamp := fs.Bool("timestamp", false, "request an RFC 3161 timestamp over the signature")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("-in and -out are required")
	}

	loaded, err := loadKeyMaterial(*p12, *p12Password, *certPath, *keyPath)
	if err != nil {
		return err
	}
	if loaded.Expired(time.Now()) {
		log.Warn().Msg("signing certificate has already expired")
	}

	input, err := xades.NewFileInput(*in, *detached)
	if err != nil {
		return err
	}

	signer := xades.NewSigner(loaded.AsKeyStore())
	signer.Logger = log
	signer.Hash = hashFromConfig(cfg.Hash.Algorithm)

	result, err := signer.Sign(input, xades.SignOptions{AddTimestamp: *timestamp})
	if err != nil {
		return err
	}

	if err := os.WriteFile(*out, result.Bytes, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	log.Info().Str("out", *out).Msg("signature written")
	return nil
}

func runVerify(cfg *config.Config, log *logger.Logger, args []string) error {
	_ = cfg
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	in := fs.String("in", "", "path to the signed XML document")
	trustPEM := fs.String("trust", "", "PEM file of trusted root certificates (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return fmt.Errorf("parse %s: %w", *in, err)
	}

	var store dsig.X509CertificateStore
	if *trustPEM != "" {
		roots, err := loadTrustRoots(*trustPEM)
		if err != nil {
			return err
		}
		store = &dsig.MemoryX509CertificateStore{Roots: roots}
	}

	verifier := xades.NewVerifier(store)
	verifier.Logger = log

	result, err := verifier.Verify(doc.Root())
	if err != nil {
		return fmt.Errorf("%s: %w", xades.KindOf(err), err)
	}

	fmt.Printf("signature valid, signed by %s at %s\n", result.Certificate.Subject, result.SignedProperties.SignatureProps.SigningTime)
	for _, w := range result.TimestampWarnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	for _, cs := range result.CounterSignatures {
		if cs.Err != nil {
			fmt.Fprintln(os.Stderr, "counter-signature invalid:", cs.Err)
		}
	}
	return nil
}

func loadKeyMaterial(p12, p12Password, certPath, keyPath string) (*certbind.LoadedCertificate, error) {
	if p12 != "" {
		return certbind.LoadFromP12(p12, p12Password)
	}
	if certPath != "" {
		return certbind.LoadFromPEM(certPath, keyPath)
	}
	return nil, fmt.Errorf("either -p12 or -cert must be given")
}

func loadTrustRoots(path string) ([]*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var roots []*x509.Certificate
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate in %s: %w", path, err)
		}
		roots = append(roots, cert)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return roots, nil
}

func hashFromConfig(name string) crypto.Hash {
	switch name {
	case "sha1":
		return crypto.SHA1
	case "sha384":
		return crypto.SHA384
	case "sha512":
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}
