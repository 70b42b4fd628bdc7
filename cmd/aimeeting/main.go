package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"aimeeting/internal/app"
	"aimeeting/internal/config"
	"aimeeting/internal/control"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load ai-interview.config:", err)
	}
	rt := config.LoadRuntime()

	logFile := setupLogging(rt.TraceLog)
	if logFile != nil {
		defer logFile.Close()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC: %v", r)
			panic(r)
		}
	}()

	bus := control.NewBus()
	sess, err := app.NewSession(cfg, rt, bus)
	if err != nil {
		log.Fatal("failed to initialize session:", err)
	}
	defer sess.Close()

	go func() {
		log.Printf("control: ws listening on %s", rt.WSAddr)
		http.HandleFunc("/ws", control.ServeWS(sess, bus))
		if err := http.ListenAndServe(rt.WSAddr, nil); err != nil {
			log.Fatal("ws server failed:", err)
		}
	}()

	log.Println("Starting aimeeting control server...")
	if err := control.Serve(rt.GRPCAddr, sess, bus); err != nil {
		log.Fatal("grpc server failed:", err)
	}
}

func setupLogging(path string) *os.File {
	if path == "" {
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open trace log %s: %v\n", path, err)
		return nil
	}

	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Printf("trace log attached: %s", path)

	return file
}
