// This file implements the map and reduce task execution described in
// spec 4.3: stable hash partitioning on the map side, and a sort/group
// pass on the reduce side, both writing through a temp file + atomic
// rename so a crash mid-write never leaves a partial file for a retry to
// trip over.
package worker

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ihash is the spec's stable, non-randomized partitioning hash. It must
// produce the same value across processes for the same key, or
// partitioning becomes non-deterministic (spec 4.3: "a randomized hash
// that differs per process is an incorrectness bug").
func ihash(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() & 0x7fffffff)
}

func intermediateName(mapID, reduceID int) string {
	return fmt.Sprintf("mr-%d-%d.txt", mapID, reduceID)
}

func outputName(reduceID int) string {
	return fmt.Sprintf("mr-%d.txt", reduceID)
}

func inputName(mapID int) string {
	return fmt.Sprintf("pg-%d.txt", mapID)
}

// writeAtomic writes the lines produced by write to a temp file in dir,
// then renames it into place at path, so readers only ever see a
// complete file.
func writeAtomic(path string, write func(*bufio.Writer) error) error {
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".mr-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// doMapTask reads pg-{id}.txt, applies the user map function, and
// partitions the resulting key-value pairs into NReduce intermediate
// files mr-{id}-{j}.txt, one KEY SPACE VALUE line per record.
func (w *Worker) doMapTask(id int) error {
	path := inputName(id)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("doMapTask(%d): read %s: %w", id, path, err)
	}

	kvs := w.cfg.MapFn(path, string(content))

	partitions := make([][]KeyValue, w.cfg.NReduce)
	for _, kv := range kvs {
		if strings.ContainsAny(kv.Key, " \n") {
			return fmt.Errorf("doMapTask(%d): key %q contains a space or newline", id, kv.Key)
		}
		p := ihash(kv.Key) % w.cfg.NReduce
		partitions[p] = append(partitions[p], kv)
	}

	for j, part := range partitions {
		path := intermediateName(id, j)
		err := writeAtomic(path, func(bw *bufio.Writer) error {
			for _, kv := range part {
				if _, err := fmt.Fprintf(bw, "%s %s\n", kv.Key, kv.Value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("doMapTask(%d): write partition %d: %w", id, j, err)
		}
	}
	return nil
}

// doReduceTask reads mr-{i}-{id}.txt for every map task i, groups values
// by key, and writes mr-{id}.txt with one KEY SPACE RESULT line per key
// in ascending order.
func (w *Worker) doReduceTask(id int) error {
	grouped := make(map[string][]string)

	for i := 0; i < w.cfg.NMap; i++ {
		path := intermediateName(i, id)
		if err := readIntermediate(path, grouped); err != nil {
			return fmt.Errorf("doReduceTask(%d): %w", id, err)
		}
	}

	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	path := outputName(id)
	return writeAtomic(path, func(bw *bufio.Writer) error {
		for _, k := range keys {
			result := w.cfg.ReduceFn(k, grouped[k])
			if _, err := fmt.Fprintf(bw, "%s %s\n", k, result); err != nil {
				return err
			}
		}
		return nil
	})
}

func readIntermediate(path string, grouped map[string][]string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		// A map task that has not produced this partition yet (or whose
		// output was for a reduce count of zero records) is not an
		// error: an empty partition simply contributes no keys.
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed intermediate line in %s: %q", path, line)
		}
		grouped[parts[0]] = append(grouped[parts[0]], parts[1])
	}
	return sc.Err()
}
