package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	lua "github.com/yuin/gopher-lua"

	"github.com/fansqz/lua-debugger/constants"
	"github.com/fansqz/lua-debugger/debugger"
	"github.com/fansqz/lua-debugger/debugger/gopherlua"
	"github.com/fansqz/lua-debugger/utils"
)

// 定义版本号
const Version = "1.0.0"

// lingerTimeout 脚本结束后等IDE断开的时长
const lingerTimeout = 10 * time.Second

const updateInterval = 10 * time.Millisecond

var (
	flagConfig  string
	flagIP      string
	flagPort    int
	flagFile    string
	flagSchema  string
	flagNorepl  bool
	showVersion bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lua-debugger",
		Short: "DAP debug server for Lua scripts running on gopher-lua",
		RunE:  run,
	}
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "yaml config file")
	rootCmd.Flags().StringVar(&flagIP, "ip", "", "IP to listen on")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "TCP port to listen on")
	rootCmd.Flags().StringVar(&flagFile, "file", "", "lua script to debug")
	rootCmd.Flags().StringVar(&flagSchema, "schema", "", "JSON schema file for request validation")
	rootCmd.Flags().BoolVar(&flagNorepl, "norepl", false, "do not advertise evaluate capability")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show the version number")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("Version: %s\n", Version)
		return nil
	}

	config, err := LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	// 命令行覆盖配置文件
	if flagIP != "" {
		config.IP = flagIP
	}
	if flagPort != 0 {
		config.Port = flagPort
	}
	if flagSchema != "" {
		config.SchemaPath = flagSchema
	}
	if flagNorepl {
		config.Norepl = true
	}
	if flagFile == "" {
		return fmt.Errorf("script file cannot be empty")
	}

	SetupLogger(config.LogPath)
	defer CloseLogger()

	L := lua.NewState()
	defer L.Close()
	adapter := gopherlua.NewAdapter(L)

	d, err := debugger.Attach(L, config.IP, config.Port, &debugger.AttachOption{
		Host:      adapter,
		Inspector: adapter,
		Evaluator: adapter,
	})
	if err != nil {
		return err
	}
	defer d.Shutdown()

	if config.SchemaPath != "" {
		if err := d.SetSchema(config.SchemaPath); err != nil {
			return err
		}
	}
	d.NoreplInitialize(config.Norepl)
	if err := d.Open(); err != nil {
		return err
	}
	logrus.Infof("[main] listening, waiting for IDE, script = %s", flagFile)

	// 等IDE走完initialize/configurationDone再起脚本
	for d.State() != constants.Running {
		if d.State() == constants.Terminated {
			return nil
		}
		d.Update()
		time.Sleep(updateInterval)
	}

	runner := gopherlua.NewRunner(adapter, flagFile)
	if err := runner.Run(); err != nil {
		logrus.Errorf("[main] script error: %v", err)
		// 停在出错现场，IDE可以检查栈帧之后再disconnect
		d.Exception(L, runner.LastActivation(), err.Error())
	}

	// 脚本结束，给IDE一个收尾窗口
	expired := make(chan struct{})
	timeoutManager := utils.NewTimeoutManager()
	timeoutManager.Start(context.Background(), lingerTimeout, func() {
		close(expired)
	})
	for d.State() != constants.Terminated && d.State() != constants.Birth {
		select {
		case <-expired:
			return nil
		default:
		}
		d.Update()
		time.Sleep(updateInterval)
	}
	timeoutManager.Cancel()
	return nil
}
