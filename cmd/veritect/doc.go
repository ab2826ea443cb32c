// Command veritect trains and evaluates the video deepfake detector, and
// inspects past runs, devices, and configuration.
package main
