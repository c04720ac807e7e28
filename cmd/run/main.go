package main

import (
	"context"
	"encoding/csv"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/henhans/pomerol2triqs"
	"github.com/henhans/pomerol2triqs/mpi"
)

const (
	fnameParams  = "params.yaml"
	fnameArchive = "2band.atom.db"
	fnameEigen   = "eig.csv"
)

var (
	runDir = flag.String("d", filepath.Join("runs", "2band"), "run directory, optionally holding "+fnameParams)
)

func writeEig(dir string, vals []float64) error {
	fpath := filepath.Join(dir, fnameEigen)
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := csv.NewWriter(f)

	if err1 := w.Write([]string{"i", "energy"}); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	for i, v := range vals {
		if err != nil {
			break
		}
		row := []string{strconv.Itoa(i), strconv.FormatFloat(v, 'f', -1, 64)}
		if err1 := w.Write(row); err1 != nil {
			err = errors.Wrap(err1, "")
		}
	}

	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	ctx := context.Background()
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	p, err := pomerol2triqs.LoadParams(filepath.Join(*runDir, fnameParams))
	if err != nil {
		return errors.Wrap(err, "")
	}
	p.Verbose = p.Verbose && mpi.IsMasterNode()
	if p.Verbose {
		log.Printf("rank %d of %d", mpi.Rank(), mpi.Size())
	}

	r, err := pomerol2triqs.Compute(ctx, p)
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("ground energy %f density %f", r.GroundEnergy, r.Density)

	if !mpi.IsMasterNode() {
		return nil
	}
	if err := writeEig(*runDir, r.Eigenvalues); err != nil {
		return errors.Wrap(err, "")
	}
	if err := r.Save(ctx, filepath.Join(*runDir, fnameArchive)); err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("%s", filepath.Join(*runDir, fnameArchive))
	return nil
}
