package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cloudio/cloudio/pkg/cloudio"
)

// runCommand 执行单个子命令并返回退出码：参数错误为 2，执行失败为 1。
func runCommand(ctx context.Context, client *cloudio.Client, command string, args []string) int {
	var err error
	switch command {
	case "get":
		err = withOneArg(command, args, func(target string) error {
			path, err := client.CachedPath(ctx, target)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdOut, path)
			return nil
		})
	case "cat":
		err = withOneArg(command, args, func(target string) error {
			f, err := client.Open(ctx, target)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(stdOut, f)
			return err
		})
	case "put":
		err = putCommand(ctx, client, args)
	case "rm":
		err = withOneArg(command, args, func(target string) error {
			return client.Remove(ctx, target)
		})
	case "origin":
		err = withOneArg(command, args, func(key string) error {
			origin, err := client.ResolveOrigin(ctx, key)
			if err != nil {
				return err
			}
			return json.NewEncoder(stdOut).Encode(struct {
				URL  string `json:"url"`
				ETag any    `json:"etag"`
			}{URL: origin.URL, ETag: origin.ETag})
		})
	default:
		fmt.Fprintf(stdErr, "未知命令: %s\n%s\n", command, usage)
		return 2
	}

	var argErr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &argErr):
		fmt.Fprintf(stdErr, "%v\n%s\n", err, usage)
		return 2
	default:
		fmt.Fprintf(stdErr, "%s 失败: %v\n", command, err)
		return 1
	}
}

// writeOnlyCreate 是 put 从标准输入写入远端时使用的打开标志。
const writeOnlyCreate = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// putCommand 上传本地文件/目录；未给出本地路径或为 "-" 时从标准输入读取。
func putCommand(ctx context.Context, client *cloudio.Client, args []string) error {
	switch {
	case len(args) == 2 && args[1] != "-":
		return client.Upload(ctx, args[0], args[1])
	case len(args) == 1, len(args) == 2:
		return client.WithFile(ctx, args[0], writeOnlyCreate, func(h cloudio.Handle) error {
			_, err := io.Copy(h, stdIn)
			return err
		})
	default:
		return usageError{command: "put", want: "<url> [local|-]"}
	}
}

type usageError struct {
	command string
	want    string
}

func (e usageError) Error() string {
	return fmt.Sprintf("%s 需要参数 %s", e.command, e.want)
}

func withOneArg(command string, args []string, fn func(string) error) error {
	if len(args) != 1 {
		return usageError{command: command, want: "<target>"}
	}
	return fn(args[0])
}
