// Package jsonl 实现异步 JSONL 文件写入与协调器决策日志。
// Write 在事件循环上调用，缓冲满时丢弃记录而不阻塞。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

var (
	// ErrBufferFull 写入缓冲已满，记录被丢弃
	ErrBufferFull = errors.New("jsonl: buffer full")
	// ErrClosed 写入器已关闭
	ErrClosed = errors.New("jsonl: closed")
)

// Writer 决策日志文件写入器
// 记录经 channel 交给后台 goroutine 编码写盘；channel 排空时落盘一次。
type Writer struct {
	records chan Record

	// mu 保证关闭 channel 与投递互斥
	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64

	closeOnce sync.Once
	closeErr  error
	done      chan error
}

// NewWriter 打开（追加）日志文件并启动写盘 goroutine
// 参数 bufferSize: 待写记录上限，<=0 时为 1000
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		records: make(chan Record, bufferSize),
		done:    make(chan error, 1),
	}
	go w.drain(f)
	return w, nil
}

// Write 投递一条记录，不等待写盘
func (w *Writer) Write(r Record) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.records <- r:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBufferFull
	}
}

// Dropped 因缓冲满丢弃的记录数
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close 写完已投递的记录后关闭文件
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.records)
		w.mu.Unlock()
		w.closeErr = <-w.done
	})
	return w.closeErr
}

func (w *Writer) drain(f *os.File) {
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	var werr error
	for r := range w.records {
		if err := enc.Encode(r); err != nil && werr == nil {
			werr = err
		}
		if len(w.records) == 0 {
			if err := bw.Flush(); err != nil && werr == nil {
				werr = err
			}
		}
	}
	if err := bw.Flush(); err != nil && werr == nil {
		werr = err
	}
	if err := f.Close(); err != nil && werr == nil {
		werr = err
	}
	w.done <- werr
}
